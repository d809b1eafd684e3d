// Package upstream talks to the point-of-sale, spillage and inventory
// services over REST.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/store"
)

const userAgent = "spillaged/1.0"

type Options struct {
	POSBaseURL       string
	SpillageBaseURL  string
	InventoryBaseURL string
	Timeout          time.Duration
	RetryMax         int
	Log              logrus.FieldLogger
}

// Client implements store.Collaborators against the three upstream services.
type Client struct {
	http         *retryablehttp.Client
	posURL       string
	spillageURL  string
	inventoryURL string
	log          logrus.FieldLogger
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
}

func New(opts Options) *Client {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	// keep the last response once retries run out so its status can be mapped
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{log: opts.Log.WithField("component", "upstream")}

	return &Client{
		http:         retryClient,
		posURL:       strings.TrimRight(opts.POSBaseURL, "/"),
		spillageURL:  strings.TrimRight(opts.SpillageBaseURL, "/"),
		inventoryURL: strings.TrimRight(opts.InventoryBaseURL, "/"),
		log:          opts.Log,
	}
}

func (c *Client) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	body, err := c.do(ctx, http.MethodGet, c.posURL+"/cashiers", nil)
	if err != nil {
		return nil, err
	}
	items := itemsOf(body)
	out := make([]domain.Operator, 0, len(items))
	for _, item := range items {
		handle := firstString(item, "handle", "username")
		if handle == "" {
			continue
		}
		out = append(out, domain.Operator{
			Handle:      handle,
			DisplayName: firstString(item, "display_name", "name"),
		})
	}
	return out, nil
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]domain.WorkSession, error) {
	body, err := c.do(ctx, http.MethodGet, c.posURL+"/sessions/active", nil)
	if err != nil {
		return nil, err
	}
	items := itemsOf(body)
	out := make([]domain.WorkSession, 0, len(items))
	for _, item := range items {
		start, err := parseTime(item.Get("start"))
		if err != nil || start == nil {
			c.log.WithField("session", item.Raw).Warn("skipping session without a valid start")
			continue
		}
		end, err := parseTime(item.Get("end"))
		if err != nil {
			c.log.WithField("session", item.Raw).Warn("skipping session with an invalid end")
			continue
		}
		out = append(out, domain.WorkSession{
			ID:             item.Get("session_id").Int(),
			OperatorHandle: firstString(item, "operator_handle", "cashier"),
			Start:          *start,
			End:            end,
		})
	}
	return out, nil
}

func (c *Client) ListProductsSoldInSession(ctx context.Context, sessionID int64) ([]domain.ProductChoice, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/sessions/%d/products", c.posURL, sessionID), nil)
	if err != nil {
		return nil, err
	}
	items := itemsOf(body)
	out := make([]domain.ProductChoice, 0, len(items))
	for _, item := range items {
		out = append(out, domain.ProductChoice{
			ProductName: item.Get("product_name").String(),
			Category:    item.Get("category").String(),
		})
	}
	return out, nil
}

func (c *Client) ListSpillage(ctx context.Context, from string, to string) ([]domain.SpillageRecord, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	target := c.spillageURL + "/spillage"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	items := itemsOf(body)
	out := make([]domain.SpillageRecord, 0, len(items))
	for _, item := range items {
		out = append(out, recordFrom(item))
	}
	return out, nil
}

func (c *Client) GetSpillage(ctx context.Context, id int64) (*domain.SpillageRecord, error) {
	body, err := c.do(ctx, http.MethodGet, c.spillageURL+"/spillage/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	rec := recordFrom(gjson.ParseBytes(body))
	return &rec, nil
}

func (c *Client) CreateSpillage(ctx context.Context, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	body, err := c.do(ctx, http.MethodPost, c.spillageURL+"/spillage", payload)
	if err != nil {
		return nil, err
	}
	rec := recordFrom(gjson.ParseBytes(body))
	if rec.ID < 1 {
		return nil, fmt.Errorf("%w: create response carries no spillage_id", store.ErrInvalidRecord)
	}
	return &rec, nil
}

func (c *Client) UpdateSpillage(ctx context.Context, id int64, payload domain.SpillagePayload) (*domain.SpillageRecord, error) {
	body, err := c.do(ctx, http.MethodPut, c.spillageURL+"/spillage/"+strconv.FormatInt(id, 10), payload)
	if err != nil {
		return nil, err
	}
	rec := recordFrom(gjson.ParseBytes(body))
	if rec.ID == 0 {
		rec.ID = id
	}
	return &rec, nil
}

func (c *Client) DeleteSpillage(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, c.spillageURL+"/spillage/"+strconv.FormatInt(id, 10), nil)
	return err
}

// AdjustInventory posts the payload to /{subsystem}/{operation} on the inventory service.
func (c *Client) AdjustInventory(ctx context.Context, subsystem domain.Subsystem, op domain.Operation, payload domain.InventoryPayload) error {
	target := fmt.Sprintf("%s/%s/%s", c.inventoryURL, url.PathEscape(string(subsystem)), url.PathEscape(string(op)))
	_, err := c.do(ctx, http.MethodPost, target, payload)
	return err
}

func (c *Client) do(ctx context.Context, method string, target string, payload interface{}) ([]byte, error) {
	var reqBody interface{}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, target, err)
		}
		reqBody = encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, target, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	statusErr := &StatusError{Method: method, URL: target, Code: resp.StatusCode, Message: errorMessage(body)}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, statusErr)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %v", store.ErrInsufficientStock, statusErr)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, statusErr)
	}
	return nil, statusErr
}

// itemsOf accepts either a bare array or an {"items": [...]} envelope.
func itemsOf(body []byte) []gjson.Result {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array()
	}
	return root.Get("items").Array()
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(item.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func parseTime(v gjson.Result) (*time.Time, error) {
	if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func recordFrom(item gjson.Result) domain.SpillageRecord {
	rec := domain.SpillageRecord{
		ID:            item.Get("spillage_id").Int(),
		SessionID:     item.Get("session_id").Int(),
		ProductName:   item.Get("product_name").String(),
		Category:      item.Get("category").String(),
		Quantity:      int(item.Get("quantity").Int()),
		SpillageDate:  item.Get("spillage_date").String(),
		Reason:        item.Get("reason").String(),
		LoggedBy:      item.Get("logged_by").String(),
		CashierHandle: item.Get("cashier_handle").String(),
	}
	if t, err := parseTime(item.Get("created_at")); err == nil && t != nil {
		rec.CreatedAt = *t
	}
	if t, err := parseTime(item.Get("updated_at")); err == nil && t != nil {
		rec.UpdatedAt = *t
	}
	return rec
}

func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		msg := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
	return firstString(gjson.ParseBytes(body), "error", "message")
}

// leveledLogger routes retryablehttp's logs through logrus.
type leveledLogger struct {
	log logrus.FieldLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fieldsOf(keysAndValues)).Error(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fieldsOf(keysAndValues)).Warn(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func fieldsOf(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
