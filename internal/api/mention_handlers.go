package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/metrics"
	"github.com/mentionhub/mentiond/internal/queue/memory"
	"github.com/mentionhub/mentiond/internal/store"
)

type pingRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// receivePing accepts a webmention notification. Validation is synchronous;
// everything after the 202 runs on the resolution workers.
func (s *Server) receivePing(w http.ResponseWriter, r *http.Request) {
	req, err := parsePing(r)
	if err != nil {
		metrics.ObservePing("rejected")
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	if err := mention.ValidatePing(req.Source, req.Target); err != nil {
		metrics.ObservePing("rejected")
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}

	ping := mention.Ping{
		ID:       uuid.NewString(),
		Source:   req.Source,
		Target:   req.Target,
		Received: s.clock.Now(),
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, ping); err != nil {
		metrics.ObservePing("queue_full")
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, memory.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(s.logger, w, status, "could not accept ping")
		return
	}

	metrics.ObservePing("accepted")
	s.logger.Info("ping accepted",
		zap.String("ping_id", ping.ID),
		zap.String("source", ping.Source),
		zap.String("target", ping.Target))
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"status": "accepted", "id": ping.ID})
}

// parsePing reads source and target from a form body or a JSON object,
// depending on the request content type.
func parsePing(r *http.Request) (pingRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req pingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return pingRequest{}, errors.New("invalid JSON body")
		}
		if req.Source == "" || req.Target == "" {
			return pingRequest{}, errors.New("source and target are required")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return pingRequest{}, errors.New("invalid form body")
	}
	req := pingRequest{
		Source: r.PostFormValue("source"),
		Target: r.PostFormValue("target"),
	}
	if req.Source == "" || req.Target == "" {
		return pingRequest{}, errors.New("source and target are required")
	}
	return req, nil
}

// listMentions serves the query API. Filters OR-combine; sort defaults to
// ascending published time.
func (s *Server) listMentions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	sort := query.Get("sort")
	if sort != "" && sort != "asc" && sort != "desc" {
		writeError(s.logger, w, http.StatusBadRequest, "sort must be asc or desc")
		return
	}
	format := query.Get("format")
	if format != "" && format != "json" && format != "html" {
		writeError(s.logger, w, http.StatusBadRequest, "format must be json or html")
		return
	}

	filter := store.MentionFilter{
		URLs:       cleanValues(query["url"]),
		Paths:      cleanValues(query["path"]),
		Site:       strings.TrimSpace(query.Get("site")),
		Descending: sort == "desc",
	}

	views, err := s.repo.ListMentions(r.Context(), filter)
	if err != nil {
		s.logger.Error("mention query failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "query failed")
		return
	}
	if views == nil {
		views = []store.MentionView{}
	}

	if format == "html" {
		s.renderMentionsHTML(w, views)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, views)
}

func cleanValues(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// streamMentions serves the server-sent event stream. Each event is named
// "mention" and carries the query projection as JSON; comment lines keep the
// connection alive between events.
func (s *Server) streamMentions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	site := strings.TrimSpace(r.URL.Query().Get("site"))
	sub := s.broadcaster.Subscribe(site, s.cfg.SubscriberBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case view, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(view)
			if err != nil {
				s.logger.Error("encode live event failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: mention\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
