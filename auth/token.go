package auth

import (
	"chat-relay/domain"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID domain.IdentityID `json:"user_id"`
	Roles  []string          `json:"roles"`
	jwt.RegisteredClaims
}

// TokenVerifier checks bearer credentials issued by the account service.
// Issuing is not this service's job; GenerateToken exists for tooling and tests.
type TokenVerifier struct {
	key    []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) TokenVerifier {
	return TokenVerifier{key: []byte(secret), issuer: issuer}
}

// GenerateToken creates a signed JWT for a specific user.
func (v TokenVerifier) GenerateToken(userID domain.IdentityID, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}

	// HS256 (HMAC with SHA256).
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}

// ValidateToken parses and validates the signature, issuer and expiration of a JWT string.
func (v TokenVerifier) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		if claims.UserID <= 0 {
			return nil, fmt.Errorf("token carries no user id")
		}
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
