package scraperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/AttendBox/internal/integrations/scraper"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type submitReq struct {
	U string   `json:"u"`
	P string   `json:"p"`
	T []string `json:"t"`
}

func (c *Client) SubmitOrder(ctx context.Context, username, password string, tasks []string) (scraper.OrderRef, error) {
	body, err := json.Marshal(submitReq{U: username, P: password, T: tasks})
	if err != nil {
		return scraper.OrderRef{}, errors.Wrap(err, "marshal submit body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order/submit", bytes.NewReader(body))
	if err != nil {
		return scraper.OrderRef{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return scraper.OrderRef{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		text, _ := io.ReadAll(resp.Body)
		return scraper.OrderRef{}, fmt.Errorf("scraper submit failed (%d): %s", resp.StatusCode, string(text))
	}

	var ref scraper.OrderRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return scraper.OrderRef{}, errors.Wrap(err, "decode submit response")
	}
	return ref, nil
}

func (c *Client) GetStatus(ctx context.Context, uid string) (scraper.Status, error) {
	u := c.baseURL + "/order/status?uid=" + url.QueryEscape(uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return scraper.Status{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return scraper.Status{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scraper.Status{}, scraper.ErrOrderUnknown
	}
	if resp.StatusCode/100 != 2 {
		return scraper.Status{}, fmt.Errorf("scraper status failed (%d)", resp.StatusCode)
	}

	// scraper отвечает 200 с настоящим статусом в теле
	var st scraper.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return scraper.Status{}, errors.Wrap(err, "decode status response")
	}
	return st, nil
}

func (c *Client) Download(ctx context.Context, username, uid string) ([]byte, error) {
	u := c.baseURL + "/download?uname=" + url.QueryEscape(username) + "&uid=" + url.QueryEscape(uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("scraper download failed (%d)", resp.StatusCode)
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return blob, nil
}
