package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/sirupsen/logrus"
)

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "qa_loadgen_requests_total",
		Help: "Total HTTP requests sent by the load generator.",
	}, "endpoint", "method", "status", "outcome")

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "qa_loadgen_actions_total",
		Help: "Attendee actions executed by the load generator.",
	}, "action", "outcome")

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "qa_loadgen_virtual_users",
		Help: "Current number of attendees sending actions.",
	})

	streamsGauge = metrics.NewGauge(metrics.Opts{
		Name: "qa_loadgen_open_streams",
		Help: "Current number of attendees with an open question stream.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, virtualUsersGauge, streamsGauge)
}

// errRateLimited marks a 429 from qa-api. Attendees hit it routinely
// since posting is limited per minute.
var errRateLimited = errors.New("rate limited")

type attendee struct {
	Index       int
	ClientIP    string
	AccessToken string

	mu        sync.Mutex
	questions []string
}

func (a *attendee) setQuestions(ids []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.questions = ids
}

func (a *attendee) addQuestion(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.questions = append(a.questions, id)
}

func (a *attendee) randomQuestion(rng *rand.Rand) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.questions) == 0 {
		return "", false
	}
	return a.questions[rng.Intn(len(a.questions))], true
}

type runner struct {
	cfg       config
	log       logrus.FieldLogger
	apiClient *http.Client
	sseClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	rateLimited     atomic.Int64
	activeUsers     atomic.Int64
	activeStreams   atomic.Int64
}

func newRunner(cfg config, log logrus.FieldLogger) *runner {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Users * 4,
		MaxIdleConnsPerHost: cfg.Users * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &runner{
		cfg:       cfg,
		log:       log,
		apiClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		sseClient: &http.Client{Transport: transport},
	}
}

// Run signs attendees in and drives them until ctx ends.
func (r *runner) Run(ctx context.Context) error {
	users := r.setupAttendees(ctx)
	if len(users) == 0 {
		return errors.New("failed to initialize any attendees")
	}
	r.log.WithFields(logrus.Fields{
		"users":         len(users),
		"event_id":      r.cfg.EventID,
		"sse":           r.cfg.EnableSSE,
		"rate_per_user": r.cfg.ActionsPerUserPerSecond,
	}).Info("load generator initialized")

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(a *attendee) {
			defer wg.Done()
			r.runAttendee(ctx, a)
		}(user)
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (r *runner) waitForReady(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupAttendees(ctx context.Context) []*attendee {
	type setupResult struct {
		user *attendee
		err  error
	}

	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan setupResult, r.cfg.Users)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Users; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			user, err := r.signIn(ctx, idx)
			results <- setupResult{user: user, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	users := make([]*attendee, 0, r.cfg.Users)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			r.log.WithError(result.err).Warn("attendee sign-in failed")
			continue
		}
		users = append(users, result.user)
	}
	r.log.WithFields(logrus.Fields{"success": len(users), "failed": failures}).Info("attendee setup complete")
	return users
}

func (r *runner) signIn(ctx context.Context, idx int) (*attendee, error) {
	user := &attendee{
		Index:    idx,
		ClientIP: fmt.Sprintf("10.0.%d.%d", 1+(idx/250), 1+(idx%250)),
	}
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	if err := r.requestJSON(ctx, user, "auth_anonymous", http.MethodPost, "/api/v1/auth/anonymous", nil, &auth, http.StatusCreated, http.StatusOK); err != nil {
		return nil, fmt.Errorf("anonymous sign-in %d: %w", idx, err)
	}
	if strings.TrimSpace(auth.AccessToken) == "" {
		return nil, fmt.Errorf("empty access token for attendee %d", idx)
	}
	user.AccessToken = auth.AccessToken
	return user, nil
}

func (r *runner) runAttendee(ctx context.Context, user *attendee) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if r.cfg.EnableSSE {
		go r.runStreamLoop(ctx, user)
	}

	virtualUsersGauge.Inc()
	r.activeUsers.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeUsers.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 10*time.Millisecond)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *attendee, rng *rand.Rand) {
	questionID, known := user.randomQuestion(rng)
	if !known || rng.Float64() < r.cfg.PostRatio {
		r.postQuestion(ctx, user, rng)
		return
	}
	r.toggleLike(ctx, user, questionID)
}

func (r *runner) postQuestion(ctx context.Context, user *attendee, rng *rand.Rand) {
	var resp struct {
		ID string `json:"id"`
	}
	err := r.requestJSON(ctx, user, "question_post", http.MethodPost, r.eventPath("/questions"), map[string]string{
		"text": fmt.Sprintf("Load question %d from attendee %d?", rng.Intn(1_000_000), user.Index),
	}, &resp, http.StatusCreated)
	r.recordAction("post", err)
	if err == nil {
		user.addQuestion(resp.ID)
	}
}

func (r *runner) toggleLike(ctx context.Context, user *attendee, questionID string) {
	err := r.requestJSON(ctx, user, "question_like", http.MethodPost,
		r.eventPath("/questions/"+url.PathEscape(questionID)+"/like"), nil, nil, http.StatusOK)
	r.recordAction("like", err)
}

func (r *runner) recordAction(action string, err error) {
	switch {
	case err == nil:
		actionsTotal.WithLabelValues(action, "success").Inc()
	case errors.Is(err, errRateLimited):
		r.rateLimited.Add(1)
		actionsTotal.WithLabelValues(action, "rate_limited").Inc()
	default:
		actionsTotal.WithLabelValues(action, "error").Inc()
	}
}

func (r *runner) eventPath(suffix string) string {
	return "/api/v1/events/" + url.PathEscape(r.cfg.EventID) + suffix
}

func (r *runner) runStreamLoop(ctx context.Context, user *attendee) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.readStream(ctx, user)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.WithError(err).WithField("attendee", user.Index).Debug("question stream reconnect")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1200 * time.Millisecond):
		}
	}
}

// readStream follows the asked tab and keeps the attendee's list of
// likeable questions current.
func (r *runner) readStream(ctx context.Context, user *attendee) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+r.eventPath("/stream?tab=asked&format=json"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Forwarded-For", user.ClientIP)

	resp, err := r.sseClient.Do(req)
	if err != nil {
		r.countRequest("question_stream", http.MethodGet, 0, false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.countRequest("question_stream", http.MethodGet, resp.StatusCode, false)
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected stream status: %d", resp.StatusCode)
	}
	r.countRequest("question_stream", http.MethodGet, resp.StatusCode, true)

	streamsGauge.Inc()
	r.activeStreams.Add(1)
	defer streamsGauge.Dec()
	defer r.activeStreams.Add(-1)

	var event string
	var data bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "questions" {
				if ids, ok := questionIDs(data.Bytes()); ok {
					user.setQuestions(ids)
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return nil
}

func questionIDs(payload []byte) ([]string, bool) {
	var body struct {
		Questions []struct {
			ID string `json:"id"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, false
	}
	ids := make([]string, 0, len(body.Questions))
	for _, q := range body.Questions {
		ids = append(ids, q.ID)
	}
	return ids, true
}

func (r *runner) requestJSON(ctx context.Context, user *attendee, endpoint, method, path string, payload, out any, expected ...int) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-For", user.ClientIP)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(user.AccessToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		r.countRequest(endpoint, method, 0, false)
		return err
	}
	defer resp.Body.Close()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.countRequest(endpoint, method, resp.StatusCode, false)
		return err
	}

	ok := isExpectedStatus(resp.StatusCode, expected)
	r.countRequest(endpoint, method, resp.StatusCode, ok)
	if !ok {
		if resp.StatusCode == http.StatusTooManyRequests {
			return errRateLimited
		}
		return fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
	}
	if out != nil && len(responseBody) > 0 {
		return json.Unmarshal(responseBody, out)
	}
	return nil
}

func (r *runner) countRequest(endpoint, method string, status int, ok bool) {
	outcome := "success"
	if ok {
		r.requestsSuccess.Add(1)
	} else {
		outcome = "error"
		r.requestsError.Add(1)
	}
	requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status), outcome).Inc()
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.WithFields(logrus.Fields{
				"success_requests": r.requestsSuccess.Load(),
				"error_requests":   r.requestsError.Load(),
				"rate_limited":     r.rateLimited.Load(),
				"active_users":     r.activeUsers.Load(),
				"active_streams":   r.activeStreams.Load(),
			}).Info("progress")
		}
	}
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
