package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/widgets"
)

// handleDashboard renders the dashboard. A `width` query parameter in logical pixels selects the shell.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width <= 0 {
			http.Error(w, "width must be a positive integer", http.StatusBadRequest)
			return
		}
		s.aggregator.Resize(width)
	}
	s.render(w, pageDashboard, "Dashboard")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.aggregator.ShowChatHistory(r.Context(), true)
	s.render(w, pageHistory, "Chat History")
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	s.aggregator.ToggleTheme(r.Context())
	redirectBack(w, r)
}

func (s *Server) handleTogglePanel(w http.ResponseWriter, r *http.Request) {
	s.aggregator.TogglePanel(r.Context())
	redirectBack(w, r)
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.aggregator.SetFilter(chi.URLParam(r, "filter")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirectBack(w, r)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.aggregator.Refresh(r.Context())
	redirectBack(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.aggregator.Logout(r.Context()); err != nil {
		s.logger.Error("logging out", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// stateResponse is the JSON form of the dashboard state.
type stateResponse struct {
	Authenticated        bool           `json:"authenticated"`
	Loading              bool           `json:"loading"`
	UserID               string         `json:"user_id,omitempty"`
	Email                string         `json:"email,omitempty"`
	DisplayName          string         `json:"display_name"`
	PanelOpen            bool           `json:"panel_open"`
	ShowChatHistory      bool           `json:"show_chat_history"`
	Filter               string         `json:"filter"`
	DarkMode             bool           `json:"dark_mode"`
	Mode                 string         `json:"mode"`
	LoadingConversations bool           `json:"loading_conversations"`
	OverdueLeads         int            `json:"overdue_leads"`
	OverdueLeadsLoading  bool           `json:"overdue_leads_loading"`
	Groups               []groupPayload `json:"groups"`
}

type groupPayload struct {
	DateLabel   string `json:"date_label"`
	Count       int    `json:"count"`
	LastSender  string `json:"last_sender"`
	LastPreview string `json:"last_preview"`
}

func newStateResponse(snapshot *dashboard.Snapshot, groups []*conversation.DateGroup) *stateResponse {
	response := &stateResponse{
		Authenticated:        snapshot.Authenticated(),
		Loading:              snapshot.Loading,
		DisplayName:          snapshot.DisplayName(),
		PanelOpen:            snapshot.PanelOpen,
		ShowChatHistory:      snapshot.ShowChatHistory,
		Filter:               snapshot.Filter,
		DarkMode:             snapshot.Dark,
		Mode:                 snapshot.Mode.String(),
		LoadingConversations: snapshot.LoadingConversations,
		OverdueLeads:         snapshot.OverdueLeads,
		OverdueLeadsLoading:  snapshot.OverdueLeadsLoading,
		Groups:               []groupPayload{},
	}
	if snapshot.Session != nil {
		response.UserID = snapshot.Session.UserID
		response.Email = snapshot.Session.Email
	}
	for _, group := range groups {
		response.Groups = append(response.Groups, groupPayload{
			DateLabel:   group.DateLabel,
			Count:       len(group.Conversations),
			LastSender:  conversation.Sender(group.LastConversation),
			LastPreview: conversation.Preview(group.LastConversation.Content),
		})
	}
	return response
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Snapshot()
	s.writeJSON(w, http.StatusOK, newStateResponse(&snapshot, snapshot.Groups(s.aggregator.Location())))
}

type colorRequest struct {
	Color string `json:"color"`
}

type colorResponse struct {
	Valid bool   `json:"valid"`
	Color string `json:"color,omitempty"`
}

func (s *Server) handleValidateColor(w http.ResponseWriter, r *http.Request) {
	var request colorRequest
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	color, ok := widgets.NormalizeColor(request.Color)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, &colorResponse{Valid: ok, Color: color})
}

func (s *Server) handleConnectionCard(w http.ResponseWriter, r *http.Request) {
	var connection widgets.Connection
	if err := decodeJSON(r, &connection); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if connection.Platform == "" {
		http.Error(w, "platform is required", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, widgets.NewCard(&connection, s.aggregator.Location()))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decoding request")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}
