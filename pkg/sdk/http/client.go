package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// CallerHeader 服务端读取的调用方地址头
const CallerHeader = "X-Caller-Address"

type Client struct {
	client *resty.Client
}

func NewClient(host string) *Client {
	host = strings.TrimSuffix(host, "/")

	// 只对 GET 重试：状态迁移不可重放
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时使用 Retry-After 头
			if resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

type RequestOptions struct {
	// Caller 调用方地址（写入 X-Caller-Address）
	Caller  string
	Headers map[string]string
	Data    any
	Params  map[string]any
}

// 仅设置本次请求的默认 Header（不要再改 client 级 Header）
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "sealedsale-sdk-go")
	return r
}

func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.newRequest(ctx)
	if opt != nil {
		if opt.Caller != "" {
			rc.SetHeader(CallerHeader, opt.Caller)
		}
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}
	rc.SetError(&APIError{})

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = rc.Get(endpoint)
	case http.MethodPost:
		resp, err = rc.Post(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
	return resp, ParseHTTPError(resp, err)
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}

// APIError 服务端返回的错误体
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s (%s/%s)", e.Status, e.Message, e.Kind, e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// ParseHTTPError 把非 2xx 响应转换为 *APIError
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil || apiErr.Message == "" {
		apiErr = &APIError{}
		if jerr := json.Unmarshal(resp.Body(), apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(resp.Body()))
		}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

// IsCode 判断 err 是否为指定错误码的 APIError
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
