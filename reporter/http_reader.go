// Reader is a client of the http reporter, used by tests and the wallet cli.

package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/TEENet-io/watchwallet/ledger"
)

// ApiError is a non 2xx answer of the reporter.
type ApiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("reporter returned %d (%s): %s", e.Status, e.Code, e.Message)
}

type HttpReader struct {
	baseURL string
	client  *http.Client
}

func NewHttpReader(baseURL string) *HttpReader {
	return &HttpReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
}

func (hr *HttpReader) GetAccounts() ([]AccountView, error) {
	var views []AccountView
	err := hr.do(http.MethodGet, ROUTE_ACCOUNTS, nil, &views)
	return views, err
}

func (hr *HttpReader) GetTotalBalance() (*ledger.Balance, error) {
	var bal ledger.Balance
	if err := hr.do(http.MethodGet, ROUTE_TOTAL_BALANCE, nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

func (hr *HttpReader) GetBalance(name string, includeChildren bool) (*ledger.Balance, error) {
	path := accountPath(ROUTE_BALANCE, name, "")
	if includeChildren {
		path += "?include_children=true"
	}
	var bal ledger.Balance
	if err := hr.do(http.MethodGet, path, nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

func (hr *HttpReader) GetEvents(name string, after int64, limit int) ([]*ledger.Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("limit", strconv.Itoa(limit))
	var evs []*ledger.Event
	err := hr.do(http.MethodGet, accountPath(ROUTE_EVENTS, name, "")+"?"+q.Encode(), nil, &evs)
	return evs, err
}

func (hr *HttpReader) GetTransactions(name string, f ledger.HistoryFilter) ([]*ledger.DisplayedTransaction, error) {
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	q.Set("offset", strconv.Itoa(f.Offset))
	q.Set("include_reorganized", strconv.FormatBool(f.IncludeReorganized))
	var dts []*ledger.DisplayedTransaction
	err := hr.do(http.MethodGet, accountPath(ROUTE_TRANSACTIONS, name, "")+"?"+q.Encode(), nil, &dts)
	return dts, err
}

func (hr *HttpReader) Lock(name string, body LockBody) (*LockView, error) {
	var view LockView
	if err := hr.do(http.MethodPost, accountPath(ROUTE_LOCKS, name, ""), body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (hr *HttpReader) Release(name, requestID string) (*RequestView, error) {
	var view RequestView
	if err := hr.do(http.MethodPost, accountPath(ROUTE_RELEASE, name, requestID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (hr *HttpReader) Fulfill(name, requestID string, body FulfillBody) (*RequestView, error) {
	var view RequestView
	if err := hr.do(http.MethodPost, accountPath(ROUTE_FULFILL, name, requestID), body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (hr *HttpReader) Rescan(name string, from uint64) (*RollbackView, error) {
	var view RollbackView
	if err := hr.do(http.MethodPost, accountPath(ROUTE_RESCAN, name, ""), RescanBody{FromHeight: from}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetMetrics returns the raw prometheus exposition.
func (hr *HttpReader) GetMetrics() (string, error) {
	resp, err := hr.client.Get(hr.baseURL + ROUTE_METRICS)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func accountPath(route, name, id string) string {
	p := strings.Replace(route, ":name", url.PathEscape(name), 1)
	return strings.Replace(p, ":id", url.PathEscape(id), 1)
}

// do sends body as json (if any) and decodes the "data" field of the answer into out.
func (hr *HttpReader) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else if method == http.MethodPost {
		reader = strings.NewReader("{}")
	}

	req, err := http.NewRequest(method, hr.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hr.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &ApiError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, out)
}
