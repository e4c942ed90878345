package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/auth"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// SessionStats is the slice of the session registry the API needs for
// health reporting.
type SessionStats interface {
	Stats() map[string]interface{}
}

// Server exposes the REST collaborator surface around the relay.
type Server struct {
	storage  interfaces.StorageGateway
	tokens   *auth.TokenService
	sessions SessionStats
	mux      *http.ServeMux
}

// NewServer creates the API server and registers all routes.
func NewServer(storage interfaces.StorageGateway, tokens *auth.TokenService, sessions SessionStats, wsHandler http.Handler) *Server {
	s := &Server{
		storage:  storage,
		tokens:   tokens,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /ws", wsHandler)

	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	s.mux.Handle("GET /api/users", s.authenticated(s.handleListUsers))
	s.mux.Handle("GET /api/users/search", s.authenticated(s.handleSearchUsers))
	s.mux.Handle("GET /api/users/{id}", s.authenticated(s.handleGetUser))
	s.mux.Handle("PUT /api/users/{id}", s.authenticated(s.handleUpdateUser))
	s.mux.Handle("PUT /api/users/{id}/status", s.authenticated(s.handleUpdateUserStatus))
	s.mux.Handle("DELETE /api/users/{id}", s.authenticated(s.handleDeleteUser))

	s.mux.Handle("POST /api/chats", s.authenticated(s.handleCreateChat))
	s.mux.Handle("GET /api/chats", s.authenticated(s.handleListChats))
	s.mux.Handle("GET /api/chats/{id}", s.authenticated(s.handleGetChat))
	s.mux.Handle("DELETE /api/chats/{id}", s.authenticated(s.handleDeleteChat))
	s.mux.Handle("GET /api/chats/{id}/messages", s.authenticated(s.handleChatMessages))
	s.mux.Handle("POST /api/chats/{id}/messages", s.authenticated(s.handleSendChatMessage))

	s.mux.Handle("PUT /api/messages/{id}/read", s.authenticated(s.handleMarkMessageRead))

	return s
}

// ServeHTTP implements http.Handler with CORS for browser clients.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}

type contextKey string

const claimsKey contextKey = "claims"

// authenticated wraps a handler with bearer token verification.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// Auth handlers

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username, email and a password of at least 8 characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Password hashing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	now := time.Now().UTC()
	user := &types.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Status:       "Hey there! I am using ChatRelay",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, interfaces.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		log.Printf("User creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		log.Printf("Token generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.storage.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Identical response for unknown email and wrong password
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		log.Printf("Token generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// User handlers

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	users, err := s.storage.ListUsers(r.Context(), limit, offset)
	if err != nil {
		log.Printf("User listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	users, err := s.storage.SearchUsers(r.Context(), query, queryInt(r, "limit", 20))
	if err != nil {
		log.Printf("User search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.storage.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("User lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if claimsFrom(r).UserID != userID {
		writeError(w, http.StatusForbidden, "cannot modify another user")
		return
	}

	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.storage.UpdateUserProfile(r.Context(), userID, fields); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("Profile update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	user, err := s.storage.GetUser(r.Context(), userID)
	if err != nil {
		log.Printf("User reload failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if claimsFrom(r).UserID != userID {
		writeError(w, http.StatusForbidden, "cannot modify another user")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	if err := s.storage.UpdateUserStatus(r.Context(), userID, req.Status); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("Status update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if claimsFrom(r).UserID != userID {
		writeError(w, http.StatusForbidden, "cannot delete another user")
		return
	}

	if err := s.storage.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("Account deletion failed: %v", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Chat handlers

type createChatRequest struct {
	Participants []string `json:"participants"`
	ChatType     string   `json:"chat_type"`
	GroupName    string   `json:"group_name"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatType == "" {
		req.ChatType = "private"
	}
	if req.ChatType == "private" && len(req.Participants) != 2 {
		writeError(w, http.StatusBadRequest, "private chats need exactly two participants")
		return
	}
	if len(req.Participants) < 2 {
		writeError(w, http.StatusBadRequest, "at least two participants required")
		return
	}

	// FUNCTIONAL DISCOVERY: Creating a private chat twice returns the
	// existing chat instead of duplicating the conversation
	if req.ChatType == "private" {
		if existing, err := s.storage.FindPrivateChat(r.Context(), req.Participants); err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		} else if !errors.Is(err, interfaces.ErrChatNotFound) {
			log.Printf("Private chat lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "chat creation failed")
			return
		}
	}

	now := time.Now().UTC()
	chat := &types.Chat{
		ID:           uuid.New().String(),
		Participants: req.Participants,
		ChatType:     req.ChatType,
		GroupName:    req.GroupName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.CreateChat(r.Context(), chat); err != nil {
		log.Printf("Chat creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "chat creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.storage.ListUserChats(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		log.Printf("Chat listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.storage.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		log.Printf("Chat lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !chatHasParticipant(chat, claimsFrom(r).UserID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.storage.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		log.Printf("Chat lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	if !chatHasParticipant(chat, claimsFrom(r).UserID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	if err := s.storage.DeleteChat(r.Context(), chatID); err != nil {
		log.Printf("Chat deletion failed: %v", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.storage.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		log.Printf("Chat lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !chatHasParticipant(chat, claimsFrom(r).UserID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	messages, err := s.storage.GetChatMessages(r.Context(), chatID, queryInt(r, "limit", 50))
	if err != nil {
		log.Printf("Message history lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type sendChatMessageRequest struct {
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// handleSendChatMessage persists a message into a chat over REST.
// FUNCTIONAL DISCOVERY: The REST path is storage-only; live delivery happens
// over the websocket relay, so no session resolution occurs here
func (s *Server) handleSendChatMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	chat, err := s.storage.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, interfaces.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		log.Printf("Chat lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}
	senderID := claimsFrom(r).UserID
	if !chatHasParticipant(chat, senderID) {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	var req sendChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ReceiverID == "" {
		// Private chats have exactly one other participant
		for _, participant := range chat.Participants {
			if participant != senderID {
				req.ReceiverID = participant
				break
			}
		}
	}
	if req.ReceiverID == "" || !chatHasParticipant(chat, req.ReceiverID) {
		writeError(w, http.StatusBadRequest, "receiver must be a chat participant")
		return
	}

	message := &types.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Timestamp:   time.Now().UTC(),
	}
	if _, err := s.storage.InsertMessage(r.Context(), message); err != nil {
		log.Printf("Message persistence failed: %v", err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}

	// Summary update is best-effort; the message is already durable
	if err := s.storage.UpdateChatSummary(r.Context(), chatID, message.Content, message.Timestamp); err != nil {
		log.Printf("Failed to update chat summary for %s: %v", chatID, err)
	}

	writeJSON(w, http.StatusCreated, message)
}

// Message handlers

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")

	message, err := s.storage.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		log.Printf("Message lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if message.ReceiverID != claimsFrom(r).UserID {
		writeError(w, http.StatusForbidden, "only the receiver may mark a message read")
		return
	}

	if err := s.storage.MarkMessageRead(r.Context(), messageID); err != nil {
		if errors.Is(err, interfaces.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		log.Printf("Mark read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_read": true})
}

// Health handler

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := s.storage.HealthCheck(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.sessions.Stats(),
	})
}

// Helpers

func chatHasParticipant(chat *types.Chat, userID string) bool {
	for _, participant := range chat.Participants {
		if participant == userID {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
