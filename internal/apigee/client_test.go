package apigee

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

func TestTranslateError(t *testing.T) {
	reqURL, _ := url.Parse("https://api.example.com/v1/organizations/acme/apis/edgemicro-auth")
	req := &http.Request{Method: http.MethodPost, URL: reqURL}

	t.Run("transport error is kept", func(t *testing.T) {
		transportErr := errors.New("dial tcp: lookup api.example.com: no such host")
		err := TranslateError(nil, transportErr)
		if err != transportErr {
			t.Errorf("expected transport error to pass through, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(strings.NewReader("")), Request: req}
		if err := TranslateError(resp, nil); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("error status", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader(`{"message":"boom"}`)),
			Request:    req,
		}
		err := TranslateError(resp, nil)

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected *HTTPError, got %T", err)
		}
		for _, want := range []string{"POST", reqURL.String(), "500"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("expected message %q to contain %q", err.Error(), want)
			}
		}
		if httpErr.Text != `{"message":"boom"}` {
			t.Errorf("expected Text to be the raw body, got %q", httpErr.Text)
		}
	})
}

type recordedRequest struct {
	method      string
	path        string
	query       string
	contentType string
	user        string
	pass        string
	body        string
}

// recorder is a fake management server that records every request it gets.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	user, pass, _ := req.BasicAuth()
	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{
		method:      req.Method,
		path:        req.URL.Path,
		query:       req.URL.RawQuery,
		contentType: req.Header.Get("Content-Type"),
		user:        user,
		pass:        pass,
		body:        string(body),
	})
	r.mu.Unlock()
	if r.handler != nil {
		r.handler(w, req)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{handler: h}
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", Credentials{Username: "admin", Password: "secret"}, server.Client()), rec
}

func TestAPIInfo(t *testing.T) {
	tests := []struct {
		name   string
		status int
		found  bool
		errMsg string
	}{
		{name: "exists", status: http.StatusOK, found: true},
		{name: "missing", status: http.StatusNotFound, found: false},
		{name: "unauthorized", status: http.StatusUnauthorized, errMsg: "Get API info returned status 401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			found, err := client.APIInfo(context.Background(), "acme", "edgemicro-auth")
			if tt.errMsg != "" {
				var infoErr *APIInfoError
				if !errors.As(err, &infoErr) {
					t.Fatalf("expected *APIInfoError, got %v", err)
				}
				if err.Error() != tt.errMsg {
					t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found != tt.found {
				t.Errorf("expected found=%v, got %v", tt.found, found)
			}
			if rec.requests[0].path != "/v1/organizations/acme/apis/edgemicro-auth" {
				t.Errorf("unexpected path %s", rec.requests[0].path)
			}
		})
	}
}

func TestAddResource(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	err := client.AddResource(context.Background(), "acme", "edgemicro-auth", 1,
		"callout.jar", "java", strings.NewReader("PK\x03\x04jar"))
	if err != nil {
		t.Fatalf("AddResource failed: %v", err)
	}

	got := rec.requests[0]
	if got.method != http.MethodPost {
		t.Errorf("expected POST, got %s", got.method)
	}
	if got.path != "/v1/organizations/acme/apis/edgemicro-auth/revisions/1/resources" {
		t.Errorf("unexpected path %s", got.path)
	}
	if got.query != "name=callout.jar&type=java" {
		t.Errorf("unexpected query %s", got.query)
	}
	if got.contentType != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %s", got.contentType)
	}
	if got.user != "admin" || got.pass != "secret" {
		t.Errorf("expected basic auth admin/secret, got %s/%s", got.user, got.pass)
	}
	if got.body != "PK\x03\x04jar" {
		t.Errorf("unexpected body %q", got.body)
	}
}

func TestAddResourceFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "resource already exists", http.StatusConflict)
	})

	err := client.AddResource(context.Background(), "acme", "edgemicro-auth", 1, "callout.jar", "java", strings.NewReader(""))
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Text, "resource already exists") {
		t.Errorf("expected body in Text, got %q", httpErr.Text)
	}
}

func TestAddStepDefinition(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	def := []byte("<JavaCallout name=\"JavaCallout\"/>")
	if err := client.AddStepDefinition(context.Background(), "acme", "edgemicro-auth", 1, def); err != nil {
		t.Fatalf("AddStepDefinition failed: %v", err)
	}

	got := rec.requests[0]
	if got.path != "/v1/organizations/acme/apis/edgemicro-auth/revisions/1/stepdefinitions" {
		t.Errorf("unexpected path %s", got.path)
	}
	if got.contentType != "application/xml" {
		t.Errorf("expected application/xml, got %s", got.contentType)
	}
	if got.body != string(def) {
		t.Errorf("unexpected body %q", got.body)
	}
}

func TestAttachStep(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	step := Step{Proxy: "default", Name: "JavaCallout", Flow: "PostFlow", Enforcement: "response"}
	if err := client.AttachStep(context.Background(), "acme", "edgemicro-auth", 1, step); err != nil {
		t.Fatalf("AttachStep failed: %v", err)
	}

	got := rec.requests[0]
	if got.path != "/v1/organizations/acme/apis/edgemicro-auth/revisions/1/proxies/default/steps" {
		t.Errorf("unexpected path %s", got.path)
	}
	if got.query != "name=JavaCallout&flow=PostFlow&enforcement=response" {
		t.Errorf("unexpected query %s", got.query)
	}
	if got.body != "" {
		t.Errorf("expected empty body, got %q", got.body)
	}
}

func TestDeployNodeApp(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/v1/organizations/acme/apis":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"name":"edgemicro-auth","revision":"1"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	rev, err := client.DeployNodeApp(context.Background(), NodeAppOptions{
		Organization: "acme",
		Environments: []string{"test", "prod"},
		API:          "edgemicro-auth",
		Main:         "app.js",
		Directory:    sampleDir(t),
		BasePath:     "/edgemicro-auth",
		VirtualHosts: []string{"default", "secure"},
	})
	if err != nil {
		t.Fatalf("DeployNodeApp failed: %v", err)
	}
	if rev != 1 {
		t.Errorf("expected revision 1, got %d", rev)
	}

	wantPaths := []string{
		"/v1/organizations/acme/apis/edgemicro-auth",
		"/v1/organizations/acme/apis",
		"/v1/organizations/acme/environments/test/apis/edgemicro-auth/revisions/1/deployments",
		"/v1/organizations/acme/environments/prod/apis/edgemicro-auth/revisions/1/deployments",
	}
	if len(rec.requests) != len(wantPaths) {
		t.Fatalf("expected %d requests, got %d", len(wantPaths), len(rec.requests))
	}
	for i, want := range wantPaths {
		if rec.requests[i].path != want {
			t.Errorf("request %d: expected path %s, got %s", i, want, rec.requests[i].path)
		}
	}
	if rec.requests[1].query != "action=import&name=edgemicro-auth&validate=false" {
		t.Errorf("unexpected import query %s", rec.requests[1].query)
	}
	if rec.requests[2].body != "basepath=%2Fedgemicro-auth" {
		t.Errorf("unexpected deploy body %q", rec.requests[2].body)
	}
}

func TestDeployNodeAppStopsOnAPIInfoError(t *testing.T) {
	client, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.DeployNodeApp(context.Background(), NodeAppOptions{
		Organization: "acme",
		Environments: []string{"test"},
		API:          "edgemicro-auth",
		Main:         "app.js",
		Directory:    sampleDir(t),
	})
	var infoErr *APIInfoError
	if !errors.As(err, &infoErr) || infoErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIInfoError, got %v", err)
	}
	if len(rec.requests) != 1 {
		t.Errorf("expected nothing after the API info check, got %d requests", len(rec.requests))
	}
}
