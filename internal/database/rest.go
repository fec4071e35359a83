package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/realtime"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// TokenSource supplies the signed-in user's access token; requests fall back
// to the anon key when it is empty.
type TokenSource interface {
	AccessToken() string
}

// RESTDB talks to the backend's PostgREST table API and delegates change
// feed subscriptions to the realtime client.
type RESTDB struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	timeout time.Duration
	client  *fasthttp.Client
	feed    *realtime.Client
}

func NewRESTDB(projectURL, apiKey string, timeout time.Duration, tokens TokenSource, feed *realtime.Client) *RESTDB {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTDB{
		baseURL: strings.TrimSuffix(projectURL, "/") + "/rest/v1",
		apiKey:  apiKey,
		tokens:  tokens,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "tutorial-chat-app",
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		feed: feed,
	}
}

type restRequest struct {
	op     string
	method string
	table  string
	query  url.Values
	body   interface{}
	prefer string
}

type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (db *RESTDB) do(ctx context.Context, r restRequest, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := db.baseURL + "/" + r.table
	if len(r.query) > 0 {
		uri += "?" + r.query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(r.method)
	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.bearer())
	req.Header.Set("Accept", "application/json")
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}
	if r.body != nil {
		body, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.table, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = db.client.DoDeadline(req, resp, deadline)
	} else {
		err = db.client.DoTimeout(req, resp, db.timeout)
	}
	if err != nil {
		metrics.ObserveRequest(r.op, "error", start)
		return fmt.Errorf("%s: %w", r.op, err)
	}

	status := resp.StatusCode()
	metrics.ObserveRequest(r.op, strconv.Itoa(status), start)

	if status >= 300 {
		apiErr := &APIError{Status: status, Message: fmt.Sprintf("%s failed with status %d", r.op, status)}
		var pe postgrestError
		if json.Unmarshal(resp.Body(), &pe) == nil && pe.Message != "" {
			apiErr.Code = pe.Code
			apiErr.Message = pe.Message
		}
		logger.Debug("%s %s -> %d: %s", r.method, r.table, status, apiErr.Message)
		return apiErr
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.op, err)
	}
	return nil
}

func (db *RESTDB) bearer() string {
	if db.tokens != nil {
		if token := db.tokens.AccessToken(); token != "" {
			return token
		}
	}
	return db.apiKey
}

func eq(v string) string { return "eq." + v }

// Profile Repository Implementation
func (db *RESTDB) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	q := url.Values{}
	q.Set("select", "id,nickname")
	q.Set("id", eq(userID))
	q.Set("limit", "1")

	var rows []*models.Profile
	if err := db.do(ctx, restRequest{op: "select_profile", method: fasthttp.MethodGet, table: "profiles", query: q}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (db *RESTDB) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	return db.do(ctx, restRequest{
		op:     "upsert_profile",
		method: fasthttp.MethodPost,
		table:  "profiles",
		body:   profile,
		prefer: "resolution=merge-duplicates,return=minimal",
	}, nil)
}

// Room Repository Implementation
func (db *RESTDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.asc")

	var rooms []*models.Room
	if err := db.do(ctx, restRequest{op: "select_rooms", method: fasthttp.MethodGet, table: "rooms", query: q}, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (db *RESTDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error) {
	var rows []*models.Room
	err := db.do(ctx, restRequest{
		op:     "insert_room",
		method: fasthttp.MethodPost,
		table:  "rooms",
		body:   req,
		prefer: "return=representation",
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert room: backend returned no row")
	}
	return rows[0], nil
}

// Message Repository Implementation
type messageRow struct {
	models.Message
	Profiles *struct {
		Nickname string `json:"nickname"`
	} `json:"profiles"`
}

func (db *RESTDB) ListMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	q := url.Values{}
	q.Set("select", "*,profiles(nickname)")
	q.Set("room_id", eq(roomID))
	q.Set("order", "created_at.asc")

	var rows []messageRow
	if err := db.do(ctx, restRequest{op: "select_messages", method: fasthttp.MethodGet, table: "messages", query: q}, &rows); err != nil {
		return nil, err
	}

	messages := make([]*models.Message, 0, len(rows))
	for i := range rows {
		msg := rows[i].Message
		if rows[i].Profiles != nil {
			msg.Nickname = rows[i].Profiles.Nickname
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

func (db *RESTDB) InsertMessage(ctx context.Context, msg *models.NewMessage) error {
	return db.do(ctx, restRequest{
		op:     "insert_message",
		method: fasthttp.MethodPost,
		table:  "messages",
		body:   msg,
		prefer: "return=minimal",
	}, nil)
}

func (db *RESTDB) Subscribe(ctx context.Context, filter models.ChangeFilter) (Subscription, error) {
	if db.feed == nil {
		return nil, fmt.Errorf("change feed not configured")
	}
	ch, err := db.feed.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (db *RESTDB) Close() error {
	if db.feed != nil {
		return db.feed.Close()
	}
	return nil
}
