package apigee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Credentials struct {
	Username string
	Password string
}

// HTTPError is returned for responses with a status of 400 or above.
type HTTPError struct {
	Method     string
	URI        string
	StatusCode int
	// Text is the raw response body.
	Text string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("cannot %s %s (%d)", e.Method, e.URI, e.StatusCode)
}

// APIInfoError is returned when the API lookup that precedes an import is
// rejected by the management server.
type APIInfoError struct {
	StatusCode int
}

func (e *APIInfoError) Error() string {
	return fmt.Sprintf("Get API info returned status %d", e.StatusCode)
}

// TranslateError turns a completed request into an error. Transport errors
// are returned as they are; a response status of 400 or above becomes an
// *HTTPError carrying the response body.
func TranslateError(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Text:       string(body),
	}
	if resp.Request != nil {
		httpErr.Method = resp.Request.Method
		httpErr.URI = resp.Request.URL.String()
	}
	return httpErr
}

type Client struct {
	baseURI    string
	creds      Credentials
	httpClient *http.Client
}

func NewClient(baseURI string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURI:    strings.TrimSuffix(baseURI, "/"),
		creds:      creds,
		httpClient: httpClient,
	}
}

func (c *Client) apiURI(org, api string) string {
	return fmt.Sprintf("%s/v1/organizations/%s/apis/%s", c.baseURI, url.PathEscape(org), url.PathEscape(api))
}

func (c *Client) revisionURI(org, api string, rev int) string {
	return fmt.Sprintf("%s/revisions/%d", c.apiURI(org, api), rev)
}

func (c *Client) newRequest(ctx context.Context, method, uri, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", uri, err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do sends req and returns the body of a successful response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	slog.Debug("Calling management API", "method", req.Method, "uri", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err := TranslateError(resp, err); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", req.URL, err)
	}
	return body, nil
}

// APIInfo reports whether the API proxy already exists in the organization.
func (c *Client) APIInfo(ctx context.Context, org, api string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURI(org, api), "", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= http.StatusBadRequest:
		return false, &APIInfoError{StatusCode: resp.StatusCode}
	default:
		return true, nil
	}
}

type importResponse struct {
	Name     string `json:"name"`
	Revision string `json:"revision"`
}

// ImportProxy uploads a proxy bundle and returns the revision it created.
func (c *Client) ImportProxy(ctx context.Context, org, api string, bundle []byte) (int, error) {
	q := url.Values{}
	q.Set("action", "import")
	q.Set("name", api)
	q.Set("validate", "false")
	uri := fmt.Sprintf("%s/v1/organizations/%s/apis?%s", c.baseURI, url.PathEscape(org), q.Encode())

	req, err := c.newRequest(ctx, http.MethodPost, uri, "application/octet-stream", bytes.NewReader(bundle))
	if err != nil {
		return 0, err
	}
	body, err := c.do(req)
	if err != nil {
		return 0, err
	}

	var imported importResponse
	if err := json.Unmarshal(body, &imported); err != nil {
		return 0, fmt.Errorf("error decoding import response: %w", err)
	}
	rev, err := strconv.Atoi(imported.Revision)
	if err != nil {
		return 0, fmt.Errorf("invalid revision %q in import response: %w", imported.Revision, err)
	}
	return rev, nil
}

// DeployRevision deploys a proxy revision to one environment, replacing
// whatever revision was deployed there before.
func (c *Client) DeployRevision(ctx context.Context, org, env, api string, rev int, basePath string) error {
	uri := fmt.Sprintf("%s/v1/organizations/%s/environments/%s/apis/%s/revisions/%d/deployments?override=true",
		c.baseURI, url.PathEscape(org), url.PathEscape(env), url.PathEscape(api), rev)

	form := url.Values{}
	form.Set("basepath", basePath)
	req, err := c.newRequest(ctx, http.MethodPost, uri, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// AddResource uploads a resource file to a proxy revision.
func (c *Client) AddResource(ctx context.Context, org, api string, rev int, name, resourceType string, content io.Reader) error {
	q := url.Values{}
	q.Set("name", name)
	q.Set("type", resourceType)
	uri := fmt.Sprintf("%s/resources?%s", c.revisionURI(org, api, rev), q.Encode())

	req, err := c.newRequest(ctx, http.MethodPost, uri, "application/octet-stream", content)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// AddStepDefinition registers a policy on a proxy revision.
func (c *Client) AddStepDefinition(ctx context.Context, org, api string, rev int, definition []byte) error {
	uri := c.revisionURI(org, api, rev) + "/stepdefinitions"

	req, err := c.newRequest(ctx, http.MethodPost, uri, "application/xml", bytes.NewReader(definition))
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// Step places a registered policy into a proxy endpoint flow.
type Step struct {
	Proxy       string
	Name        string
	Flow        string
	Enforcement string
}

// AttachStep binds a step definition into a proxy endpoint flow. The request
// has no body.
func (c *Client) AttachStep(ctx context.Context, org, api string, rev int, step Step) error {
	uri := fmt.Sprintf("%s/proxies/%s/steps?name=%s&flow=%s&enforcement=%s",
		c.revisionURI(org, api, rev), url.PathEscape(step.Proxy),
		url.QueryEscape(step.Name), url.QueryEscape(step.Flow), url.QueryEscape(step.Enforcement))

	req, err := c.newRequest(ctx, http.MethodPost, uri, "", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}
