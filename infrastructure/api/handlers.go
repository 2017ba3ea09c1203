package api

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"encoding/base64"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// chunkRequest is the body of a chunk upload. JSON bodies carry the bytes base64 encoded
// in chunk_data; multipart bodies carry them in the "chunk" file part.
type chunkRequest struct {
	UploadID    string `json:"upload_id" form:"upload_id"`
	ChunkIndex  int    `json:"chunk_index" form:"chunk_index"`
	TotalChunks int    `json:"total_chunks" form:"total_chunks"`
	FileName    string `json:"file_name" form:"file_name"`
	MediaType   string `json:"media_type" form:"media_type"`
	ChunkData   []byte `json:"chunk_data" form:"-"`
}

// jsonChunkOverhead covers the fields around the base64 payload.
const jsonChunkOverhead = 4096

func (s *Server) uploadChunk(c *gin.Context) {
	var (
		body chunkRequest
		err  error
	)
	if c.ContentType() == gin.MIMEJSON {
		body, err = s.jsonChunk(c)
	} else {
		body, err = s.multipartChunk(c)
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	progress, err := s.deps.Uploads.ReceiveChunk(c.Request.Context(), chat.UploadChunkCommand{
		Owner:       auth.IdentityFrom(c.Request.Context()),
		UploadID:    body.UploadID,
		ChunkIndex:  body.ChunkIndex,
		TotalChunks: body.TotalChunks,
		FileName:    body.FileName,
		MediaType:   body.MediaType,
		ChunkData:   body.ChunkData,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"chunk_index":  progress.ChunkIndex,
		"received":     progress.Received,
		"total_chunks": progress.TotalChunks,
		"complete":     progress.Complete,
	})
}

func (s *Server) jsonChunk(c *gin.Context) (chunkRequest, error) {
	var body chunkRequest
	limit := int64(base64.StdEncoding.EncodedLen(s.cfg.MaxChunkSize)) + jsonChunkOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return chunkRequest{}, errors.ErrChunkTooLarge
		}
		return chunkRequest{}, errors.ErrInvalidPayload
	}
	return body, nil
}

func (s *Server) multipartChunk(c *gin.Context) (chunkRequest, error) {
	var body chunkRequest
	if err := c.ShouldBind(&body); err != nil {
		return chunkRequest{}, errors.ErrInvalidPayload
	}
	header, err := c.FormFile("chunk")
	if err != nil {
		return chunkRequest{}, errors.ErrInvalidPayload
	}
	if header.Size > int64(s.cfg.MaxChunkSize) {
		return chunkRequest{}, errors.ErrChunkTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return chunkRequest{}, errors.ErrInvalidPayload
	}
	defer file.Close()
	body.ChunkData, err = io.ReadAll(io.LimitReader(file, int64(s.cfg.MaxChunkSize)+1))
	if err != nil {
		return chunkRequest{}, errors.ErrInvalidPayload
	}
	return body, nil
}

func (s *Server) finalizeUpload(c *gin.Context) {
	var cmd chat.FinalizeUploadCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		s.fail(c, errors.ErrInvalidPayload)
		return
	}
	cmd.Owner = auth.IdentityFrom(c.Request.Context())

	ref, err := s.deps.Uploads.Finalize(c.Request.Context(), cmd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "file": ref})
}

func (s *Server) uploadStatus(c *gin.Context) {
	status, err := s.deps.Uploads.Status(c.Request.Context(), auth.IdentityFrom(c.Request.Context()), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// attachment is open to anonymous callers, who only see public artifacts.
func (s *Server) attachment(c *gin.Context) {
	viewer := auth.IdentityFrom(c.Request.Context())
	ref, err := s.deps.Attachments.Get(c.Request.Context(), viewer.ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ref)
}

func (s *Server) unread(c *gin.Context) {
	counters, err := s.deps.Private.UnreadCounters(c.Request.Context(), auth.IdentityFrom(c.Request.Context()))
	if err != nil {
		s.fail(c, err)
		return
	}
	if counters == nil {
		counters = []domain.UnreadCounter{}
	}
	c.JSON(http.StatusOK, gin.H{"counters": counters})
}

func (s *Server) roomHistory(c *gin.Context) {
	room, err := domain.ParseRoomName(c.Param("room"))
	if err != nil {
		s.fail(c, err)
		return
	}
	messages, next, err := s.deps.Chat.GetMessages(c.Request.Context(), room, cursorParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if messages == nil {
		messages = []domain.RoomMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "next_cursor": next})
}

func (s *Server) privateHistory(c *gin.Context) {
	caller := auth.IdentityFrom(c.Request.Context())
	messages, next, err := s.deps.Private.History(c.Request.Context(), caller, c.Param("conversation"), cursorParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if messages == nil {
		messages = []domain.PrivateMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "next_cursor": next})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"groups": s.deps.Groups.Rooms(),
		"stats":  s.deps.Metrics.Snapshot(),
	})
}

func cursorParam(c *gin.Context) *string {
	cursor, ok := c.GetQuery("cursor")
	if !ok || cursor == "" {
		return nil
	}
	return &cursor
}
