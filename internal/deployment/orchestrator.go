package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/puravida-software/edgeauth/internal/apigee"
	"github.com/puravida-software/edgeauth/internal/deployment/models"
	"github.com/puravida-software/edgeauth/internal/payload"
	"github.com/puravida-software/edgeauth/internal/progress"
)

const (
	DefaultProxyName    = "edgemicro-auth"
	DefaultVirtualHosts = "default,secure"
	BasePath            = "/edgemicro-auth"
	MainScript          = "app.js"
	CalloutResource     = "micro-gateway-products-javacallout-1.0.0.jar"
	CalloutClass        = "io.apigee.microgateway.javacallout.Callout"
	CalloutStep         = "JavaCallout"
	// CalloutRevision is the proxy revision the callout is attached to.
	CalloutRevision = 1

	_publicKeyPath = "/publicKey"
)

// Settings are the fixed values of an auth proxy deployment.
type Settings struct {
	BasePath string
	Main     string
	// CalloutJar is the local path of the callout archive.
	CalloutJar      string
	CalloutResource string
	CalloutClass    string
	CalloutStep     string
	Revision        int
}

func DefaultSettings(calloutJar string) Settings {
	return Settings{
		BasePath:        BasePath,
		Main:            MainScript,
		CalloutJar:      calloutJar,
		CalloutResource: CalloutResource,
		CalloutClass:    CalloutClass,
		CalloutStep:     CalloutStep,
		Revision:        CalloutRevision,
	}
}

// Management is the part of the management API a deployment needs.
type Management interface {
	DeployNodeApp(ctx context.Context, opts apigee.NodeAppOptions) (int, error)
	AddResource(ctx context.Context, org, api string, rev int, name, resourceType string, content io.Reader) error
	AddStepDefinition(ctx context.Context, org, api string, rev int, definition []byte) error
	AttachStep(ctx context.Context, org, api string, rev int, step apigee.Step) error
}

type ClientFactory func(managementURI string, creds apigee.Credentials) Management

type Preparer interface {
	Prepare(ctx context.Context, source string) (*payload.Workdir, error)
}

func NewClientFactory(httpClient *http.Client) ClientFactory {
	return func(managementURI string, creds apigee.Credentials) Management {
		return apigee.NewClient(managementURI, creds, httpClient)
	}
}

type Orchestrator struct {
	managementURI string
	authURI       string
	settings      Settings
	factory       ClientFactory
	narrator      *progress.Narrator
}

func NewOrchestrator(
	managementURI, authURI string,
	settings Settings,
	factory ClientFactory,
	narrator *progress.Narrator,
) (*Orchestrator, error) {
	if managementURI == "" {
		return nil, errors.New("managementUri must be configured")
	}
	if authURI == "" {
		return nil, errors.New("authUri must be configured")
	}
	if factory == nil {
		return nil, errors.New("client factory must be present")
	}
	return &Orchestrator{
		managementURI: managementURI,
		authURI:       authURI,
		settings:      settings,
		factory:       factory,
		narrator:      narrator,
	}, nil
}

// Run prepares the app in source and deploys it. The working directory is
// removed on every return path.
func (o *Orchestrator) Run(ctx context.Context, preparer Preparer, source string, req models.Request) (*models.Result, error) {
	req = withDefaults(req)
	o.narrator.Step("preparing %s app to be deployed to your Edge instance", req.ProxyName)

	wd, err := preparer.Prepare(ctx, source)
	defer o.cleanup(wd)
	if err != nil {
		return nil, err
	}

	return o.Deploy(ctx, wd.Path, req)
}

func (o *Orchestrator) cleanup(wd *payload.Workdir) {
	if err := wd.Remove(); err != nil {
		slog.Warn("Error removing working directory", "error", err)
		o.narrator.Warn("Could not remove %s, please delete it manually", wd.Path)
	}
}

// run holds what the steps of one deployment share.
type run struct {
	dir      string
	req      models.Request
	revision int
}

type step struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (o *Orchestrator) pipeline() []step {
	return []step{
		{name: "upload", fn: o.upload},
		{name: "resource", fn: o.addResource},
		{name: "step definition", fn: o.addStepDefinition},
		{name: "step binding", fn: o.attachStep},
	}
}

// Deploy uploads the prepared app in dir as an API proxy and attaches the
// Java callout to it. Steps run in order and the first failure ends the
// deployment.
func (o *Orchestrator) Deploy(ctx context.Context, dir string, req models.Request) (*models.Result, error) {
	if dir == "" {
		return nil, errors.New("dir must be configured")
	}
	req = withDefaults(req)

	r := &run{dir: dir, req: req}
	for _, s := range o.pipeline() {
		slog.Debug("Running deployment step", "step", s.name, "api", req.ProxyName)
		if err := s.fn(ctx, r); err != nil {
			slog.Debug("Deployment step failed", "step", s.name, "error", err)
			return nil, err
		}
	}

	o.narrator.Done("App %s deployed.", req.ProxyName)
	return &models.Result{
		Revision:     r.revision,
		PublicKeyURL: PublicKeyURL(o.authURI, req),
	}, nil
}

// client builds a management client from the request credentials. Each step
// gets its own so no call depends on what an earlier one left behind.
func (o *Orchestrator) client(req models.Request) Management {
	return o.factory(o.managementURI, apigee.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
}

func (o *Orchestrator) upload(ctx context.Context, r *run) error {
	o.narrator.Info("Give me a minute or two... this can take a while...")

	rev, err := o.client(r.req).DeployNodeApp(ctx, apigee.NodeAppOptions{
		Organization: r.req.Org,
		Environments: splitList(r.req.Env),
		API:          r.req.ProxyName,
		Main:         o.settings.Main,
		Directory:    r.dir,
		BasePath:     o.settings.BasePath,
		VirtualHosts: splitList(r.req.VirtualHosts),
	})
	if err != nil {
		slog.Debug("Upload failed", "error", err)
		return translateUploadError(err)
	}
	r.revision = rev
	if rev != o.settings.Revision {
		slog.Warn("Callout is attached to a different revision than the one imported",
			"imported", rev, "attached", o.settings.Revision)
	}

	o.narrator.Step("App %s added to your org. Now adding resources.", r.req.ProxyName)
	return nil
}

func (o *Orchestrator) addResource(ctx context.Context, r *run) error {
	jar, err := openJavaArchive(o.settings.CalloutJar)
	if err != nil {
		return &StageError{Stage: ErrResourceUpload, Err: err}
	}
	defer jar.Close()

	err = o.client(r.req).AddResource(ctx, r.req.Org, r.req.ProxyName, o.settings.Revision,
		o.settings.CalloutResource, "java", jar)
	if err != nil {
		return &StageError{Stage: ErrResourceUpload, Err: err}
	}
	slog.Info("Added callout resource", "resource", o.settings.CalloutResource)
	return nil
}

func (o *Orchestrator) addStepDefinition(ctx context.Context, r *run) error {
	def, err := apigee.JavaCalloutDefinition(o.settings.CalloutStep, o.settings.CalloutResource, o.settings.CalloutClass)
	if err != nil {
		return &StageError{Stage: ErrStepDefinition, Err: err}
	}

	err = o.client(r.req).AddStepDefinition(ctx, r.req.Org, r.req.ProxyName, o.settings.Revision, def)
	if err != nil {
		return &StageError{Stage: ErrStepDefinition, Err: err}
	}
	return nil
}

func (o *Orchestrator) attachStep(ctx context.Context, r *run) error {
	err := o.client(r.req).AttachStep(ctx, r.req.Org, r.req.ProxyName, o.settings.Revision, apigee.Step{
		Proxy:       "default",
		Name:        o.settings.CalloutStep,
		Flow:        "PostFlow",
		Enforcement: "response",
	})
	if err != nil {
		return &StageError{Stage: ErrStepBinding, Err: err}
	}
	o.narrator.Info("Callout %s attached to the %s PostFlow.", o.settings.CalloutStep, r.req.ProxyName)
	return nil
}

// openJavaArchive opens the callout archive after checking it really is one.
func openJavaArchive(path string) (*os.File, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading callout archive: %w", err)
	}
	if !isZip(mtype) {
		return nil, fmt.Errorf("%s is not a Java archive (detected %s)", path, mtype.String())
	}
	return os.Open(path)
}

func isZip(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// PublicKeyURL returns where the deployed proxy serves its JWT public key.
// Without an explicit URL, the first two %s placeholders of authURI are
// replaced by the organization and the environment.
func PublicKeyURL(authURI string, req models.Request) string {
	if req.URL != "" {
		return authURI + _publicKeyPath
	}
	u := strings.Replace(authURI, "%s", req.Org, 1)
	u = strings.Replace(u, "%s", req.Env, 1)
	return u + _publicKeyPath
}

func withDefaults(req models.Request) models.Request {
	if req.ProxyName == "" {
		req.ProxyName = DefaultProxyName
	}
	if req.VirtualHosts == "" {
		req.VirtualHosts = DefaultVirtualHosts
	}
	return req
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
