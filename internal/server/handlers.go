package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/agent0/internal/auth"
	"github.com/xaenox/agent0/internal/models"
	"github.com/xaenox/agent0/internal/session"
	"github.com/xaenox/agent0/internal/storage"
)

type sendRequest struct {
	Content string `json:"content" binding:"required"`
}

type sendResponse struct {
	ChatID   string            `json:"chatId"`
	Title    string            `json:"title"`
	Messages []*models.Message `json:"messages"`
}

type chatTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) login(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		redirectURI = "/"
	}
	c.JSON(http.StatusOK, gin.H{"url": s.auth.AuthorizeURL(redirectURI)})
}

func (s *Server) listChats(c *gin.Context) {
	chats, err := s.store.GetUserChats(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		s.logger.Error("Failed to load chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) createChat(c *gin.Context) {
	var req chatTitleRequest
	// A missing body means a default-titled chat.
	_ = c.ShouldBindJSON(&req)

	chat, err := s.store.CreateChat(c.Request.Context(), c.GetString(ctxUserID), strings.TrimSpace(req.Title))
	if err != nil {
		s.logger.Error("Failed to create chat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// ownChat loads a chat and enforces that it belongs to the caller. A chat
// owned by someone else looks identical to a missing one.
func (s *Server) ownChat(c *gin.Context) (*models.Chat, bool) {
	chat, err := s.store.GetChatByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to load chat", zap.Error(err), zap.String("chat_id", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return nil, false
	}
	if chat == nil || chat.UserID != c.GetString(ctxUserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return nil, false
	}
	return chat, true
}

func (s *Server) getChat(c *gin.Context) {
	chat, ok := s.ownChat(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) renameChat(c *gin.Context) {
	var req chatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	ctrl, err := s.sessions.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		s.chatError(c, err)
		return
	}
	if err := ctrl.Rename(c.Request.Context(), req.Title); err != nil {
		s.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": ctrl.Title()})
}

func (s *Server) deleteChat(c *gin.Context) {
	if _, ok := s.ownChat(c); !ok {
		return
	}

	if err := s.store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		s.logger.Error("Failed to delete chat", zap.Error(err), zap.String("chat_id", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}
	s.sessions.Forget(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) getMessages(c *gin.Context) {
	ctrl, err := s.sessions.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		s.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Messages())
}

func (s *Server) sendMessage(c *gin.Context) {
	ctrl, err := s.sessions.Get(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		s.chatError(c, err)
		return
	}
	s.send(c, ctrl)
}

// sendFirstMessage starts a brand-new chat from its first message.
func (s *Server) sendFirstMessage(c *gin.Context) {
	ctrl := s.sessions.New(c.GetString(ctxUserID))
	s.send(c, ctrl)
	s.sessions.Remember(ctrl)
}

func (s *Server) send(c *gin.Context, ctrl *session.Controller) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	var tokens auth.TokenSource = auth.StaticToken(c.GetString(ctxToken))
	if s.tokens != nil {
		tokens = s.tokens
	}
	err := ctrl.Send(c.Request.Context(), tokens, req.Content)
	switch {
	case errors.Is(err, auth.ErrLoginRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "login required",
			"url":   s.auth.AuthorizeURL("/"),
		})
		return
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "a message is already being sent"})
		return
	case err != nil:
		s.logger.Error("Failed to send message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	c.JSON(http.StatusOK, sendResponse{
		ChatID:   ctrl.ChatID(),
		Title:    ctrl.Title(),
		Messages: ctrl.Messages(),
	})
}

// linkIdentity hands the browser the authorize URL that links an
// additional social connection to the caller's account.
func (s *Server) linkIdentity(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		redirectURI = "/"
	}
	c.JSON(http.StatusOK, gin.H{
		"url": s.auth.LinkURL(redirectURI, c.Param("connection"), c.GetString(ctxToken)),
	})
}

func (s *Server) unlinkIdentity(c *gin.Context) {
	err := s.auth.Unlink(c.Request.Context(),
		c.GetString(ctxToken), c.GetString(ctxUserID), c.Param("connection"))
	if err != nil {
		s.logger.Error("Error unlinking account", zap.Error(err),
			zap.String("connection", c.Param("connection")))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Error unlinking account. Please try again later."})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) chatError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	s.logger.Error("Chat operation failed", zap.Error(err), zap.String("chat_id", c.Param("id")))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
