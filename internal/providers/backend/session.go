package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"lingoa/internal/domain"
)

type startSessionRequest struct {
	UserID         string `json:"user_id"`
	TargetLanguage string `json:"target_language"`
	Topic          string `json:"topic"`
}

type startSessionResponse struct {
	SessionID      string `json:"session_id"`
	Greeting       string `json:"greeting"`
	TargetLanguage string `json:"target_language"`
	Topic          string `json:"topic"`
}

type endSessionRequest struct {
	SessionID         string  `json:"session_id"`
	TotalSpeakingTime float64 `json:"total_speaking_time"`
}

type endSessionResponse struct {
	SessionID         string          `json:"session_id"`
	TotalSpeakingTime float64         `json:"total_speaking_time"`
	Completed         bool            `json:"completed"`
	Feedback          json.RawMessage `json:"feedback"`
	Streak            int             `json:"streak"`
}

type statsResponse struct {
	Streak         int  `json:"streak"`
	CompletedToday bool `json:"completed_today"`
}

func (c *Client) StartSession(ctx context.Context, opts domain.ConversationOptions) (domain.SessionInfo, error) {
	var resp startSessionResponse
	err := c.postJSON(ctx, "/api/session/start", startSessionRequest{
		UserID:         opts.UserID,
		TargetLanguage: opts.Language,
		Topic:          opts.Topic,
	}, &resp)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return domain.SessionInfo{}, errors.New("backend returned no session id")
	}
	info := domain.SessionInfo{
		ID:       resp.SessionID,
		Greeting: resp.Greeting,
		Language: firstNonEmpty(resp.TargetLanguage, opts.Language),
		Topic:    firstNonEmpty(resp.Topic, opts.Topic),
	}
	c.logger.Info("session started", "session_id", info.ID, "language", info.Language, "topic", info.Topic)
	return info, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string, speakingTime time.Duration) (domain.SessionSummary, error) {
	var resp endSessionResponse
	err := c.postJSON(ctx, "/api/session/end", endSessionRequest{
		SessionID:         sessionID,
		TotalSpeakingTime: speakingTime.Seconds(),
	}, &resp)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	summary := domain.SessionSummary{
		SessionID:    firstNonEmpty(resp.SessionID, sessionID),
		SpeakingTime: time.Duration(resp.TotalSpeakingTime * float64(time.Second)),
		Completed:    resp.Completed,
		Streak:       resp.Streak,
	}
	if len(resp.Feedback) > 0 && string(resp.Feedback) != "null" {
		var feedback any
		if err := json.Unmarshal(resp.Feedback, &feedback); err == nil {
			summary.Feedback = feedback
		}
	}
	c.logger.Info("session ended", "session_id", summary.SessionID, "completed", summary.Completed, "streak", summary.Streak)
	return summary, nil
}

// UserStats fetches the practice streak for a user.
func (c *Client) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	var resp statsResponse
	if err := c.getJSON(ctx, "/api/user/"+url.PathEscape(userID)+"/stats", &resp); err != nil {
		return domain.UserStats{}, err
	}
	return domain.UserStats{UserID: userID, Streak: resp.Streak, CompletedToday: resp.CompletedToday}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
