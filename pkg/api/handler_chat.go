package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/zju-rshub/rsagent/pkg/agent"
	"github.com/zju-rshub/rsagent/pkg/metrics"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// supportedUploadExtensions lists the accepted upload formats, in the
// order shown to users in error messages.
var supportedUploadExtensions = []string{".txt", ".md", ".docx", ".csv", ".xlsx"}

// uploadMessageTemplate merges the user message with the extracted file
// content. The wording is a frontend contract.
const uploadMessageTemplate = "%s；以下是我上传的文件，文件名为%s，内容为%s；请将我的要求和上传文件内容综合起来。"

// chatHandler handles POST /agent/chat.
func (s *Server) chatHandler(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.runTurn(c, &agent.TurnRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
		Token:     req.Token,
	})
}

// uploadHandler handles POST /agent/chat/upload: exactly one file, a
// supported extension, content merged into the message before the normal
// turn flow.
func (s *Server) uploadHandler(c *gin.Context) {
	message := c.PostForm("message")
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "请上传1个文件"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "请上传1个文件"})
		return
	}
	if len(files) > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "AI助手页面只支持上传1个文件，请重新选择"})
		return
	}

	header := files[0]
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !supportedExtension(ext) {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("不支持的文件格式：%s。支持的格式：%s", ext, strings.Join(supportedUploadExtensions, ", ")),
		})
		return
	}
	if header.Size > s.settings.MaxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("文件过大，最大支持 %d MB", s.settings.MaxFileSize/(1024*1024)),
		})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("文件处理失败: %v", err)})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.settings.MaxFileSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("文件处理失败: %v", err)})
		return
	}
	if int64(len(data)) > s.settings.MaxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("文件过大，最大支持 %d MB", s.settings.MaxFileSize/(1024*1024)),
		})
		return
	}

	content, err := extractText(ext, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if len(strings.TrimSpace(content)) < 5 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "文件内容为空或太短"})
		return
	}

	s.runTurn(c, &agent.TurnRequest{
		Message:   fmt.Sprintf(uploadMessageTemplate, message, header.Filename, content),
		SessionID: c.PostForm("session_id"),
		ChatID:    c.PostForm("chat_id"),
		Token:     c.PostForm("token"),
	})
}

func (s *Server) runTurn(c *gin.Context, req *agent.TurnRequest) {
	start := time.Now()
	resp, err := s.orchestrator.HandleTurn(c.Request.Context(), req)
	if err != nil {
		respondTurnError(c, err)
		return
	}

	metrics.ObserveTurn(resp.TaskType, resp.Status, time.Since(start).Seconds())
	c.JSON(http.StatusOK, resp)
}

func supportedExtension(ext string) bool {
	for _, e := range supportedUploadExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// extractText pulls plain text out of an uploaded file. Binary office
// formats need the external extractor service; without it they are
// rejected rather than garbled.
func extractText(ext string, data []byte) (string, error) {
	switch ext {
	case ".txt", ".md", ".csv":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("无法解析文件编码")
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("无法提取%s文件内容", ext)
	}
}
