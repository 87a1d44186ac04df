package medicine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrServerUnavailable = errors.New("medistore unavailable")
	ErrBadStatus         = errors.New("medistore bad status")
)

var outcomeByMessage = map[string]Outcome{
	msgNotFound:      NotFound,
	msgAlreadyExists: AlreadyExists,
	msgEmpty:         Empty,
	msgNoValidPrices: NoValidPrices,
}

// Client talks to a running medistore over HTTP and maps the wire bodies back
// to Outcomes.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 3 * time.Second},
	}
}

type wireBody struct {
	Medicines    []Record `json:"medicines"`
	Name         string   `json:"name"`
	Price        Price    `json:"price"`
	Message      string   `json:"message"`
	Error        string   `json:"error"`
	AveragePrice *float64 `json:"average_price"`
}

func (c *Client) List(ctx context.Context) ([]Record, error) {
	var b wireBody
	if err := c.do(ctx, http.MethodGet, "/medicines", nil, &b); err != nil {
		return nil, err
	}
	return b.Medicines, nil
}

func (c *Client) Get(ctx context.Context, name string) (Record, Outcome, error) {
	var b wireBody
	if err := c.do(ctx, http.MethodGet, "/medicines/"+url.PathEscape(name), nil, &b); err != nil {
		return Record{}, OK, err
	}
	if out, err := outcomeOf(b); out != OK || err != nil {
		return Record{}, out, err
	}
	return Record{Name: b.Name, Price: b.Price}, OK, nil
}

func (c *Client) Create(ctx context.Context, name string, price float64) (Outcome, error) {
	return c.mutate(ctx, http.MethodPost, "/create", url.Values{
		"name":  {name},
		"price": {strconv.FormatFloat(price, 'f', -1, 64)},
	})
}

func (c *Client) UpdatePrice(ctx context.Context, name string, price float64) (Outcome, error) {
	return c.mutate(ctx, http.MethodPost, "/update", url.Values{
		"name":  {name},
		"price": {strconv.FormatFloat(price, 'f', -1, 64)},
	})
}

func (c *Client) Delete(ctx context.Context, name string) (Outcome, error) {
	return c.mutate(ctx, http.MethodDelete, "/delete", url.Values{"name": {name}})
}

func (c *Client) AveragePrice(ctx context.Context) (float64, Outcome, error) {
	var b wireBody
	if err := c.do(ctx, http.MethodGet, "/average", nil, &b); err != nil {
		return 0, OK, err
	}
	if out, err := outcomeOf(b); out != OK || err != nil {
		return 0, out, err
	}
	if b.AveragePrice == nil {
		return 0, OK, fmt.Errorf("%w: average_price missing", ErrBadStatus)
	}
	return *b.AveragePrice, OK, nil
}

func (c *Client) mutate(ctx context.Context, method, path string, form url.Values) (Outcome, error) {
	var b wireBody
	if err := c.do(ctx, method, path, form, &b); err != nil {
		return OK, err
	}
	return outcomeOf(b)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out *wireBody) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status=%d", ErrBadStatus, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func outcomeOf(b wireBody) (Outcome, error) {
	if b.Error == "" {
		return OK, nil
	}
	if out, ok := outcomeByMessage[b.Error]; ok {
		return out, nil
	}
	return OK, fmt.Errorf("%w: %s", ErrBadStatus, b.Error)
}
