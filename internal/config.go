package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	MediaRoot      string `env:"MEDIA_ROOT,required=true"`
	MediaBaseURL   string `env:"MEDIA_BASE_URL,default=/media"`

	JWTSecret     string `env:"JWT_SECRET,required=true"`
	JWTIssuer     string `env:"JWT_ISSUER,default=chat-relay"`
	SessionCookie string `env:"SESSION_COOKIE,default=sessionid"`

	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,required=true"`
	ConnectionBufferSize    int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	SinkTimeout             time.Duration `env:"SINK_TIMEOUT,default=500ms"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	UploadTTL      time.Duration `env:"UPLOAD_TTL,default=1h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,default=5m"`
	MaxChunkSize   int           `env:"MAX_CHUNK_SIZE,default=1048576"`
	MaxTotalChunks int           `env:"MAX_TOTAL_CHUNKS,default=1000"`

	HistoryLimit    int           `env:"HISTORY_LIMIT,default=50"`
	URLCacheSize    int64         `env:"URL_CACHE_SIZE,default=10000"`
	JobMaxAttempts  int           `env:"JOB_MAX_ATTEMPTS,default=5"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`

	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// Words splits CENSORED_WORDS on commas.
func (c Config) Words() []string {
	return splitList(c.CensoredWords)
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
