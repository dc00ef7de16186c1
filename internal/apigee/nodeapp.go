package apigee

import (
	"context"
	"fmt"
	"log/slog"
)

type NodeAppOptions struct {
	Organization string
	Environments []string
	API          string
	Main         string
	Directory    string
	BasePath     string
	VirtualHosts []string
}

// DeployNodeApp imports the Node.js app in opts.Directory as a new revision of
// the API proxy and deploys that revision to every environment. It returns
// the deployed revision.
func (c *Client) DeployNodeApp(ctx context.Context, opts NodeAppOptions) (int, error) {
	found, err := c.APIInfo(ctx, opts.Organization, opts.API)
	if err != nil {
		return 0, err
	}
	if !found {
		slog.Info("API proxy not found, a new one will be created", "api", opts.API)
	}

	bundle, err := BuildBundle(BundleOptions{
		API:          opts.API,
		Main:         opts.Main,
		Directory:    opts.Directory,
		BasePath:     opts.BasePath,
		VirtualHosts: opts.VirtualHosts,
	})
	if err != nil {
		return 0, fmt.Errorf("error building proxy bundle: %w", err)
	}
	slog.Debug("Built proxy bundle", "api", opts.API, "bytes", len(bundle.Data), "blake3", bundle.Digest)

	rev, err := c.ImportProxy(ctx, opts.Organization, opts.API, bundle.Data)
	if err != nil {
		return 0, err
	}
	slog.Info("Imported API proxy", "api", opts.API, "revision", rev)

	for _, env := range opts.Environments {
		if err := c.DeployRevision(ctx, opts.Organization, env, opts.API, rev, opts.BasePath); err != nil {
			return 0, err
		}
		slog.Info("Deployed API proxy", "api", opts.API, "revision", rev, "environment", env)
	}

	return rev, nil
}
