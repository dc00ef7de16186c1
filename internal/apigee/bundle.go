package apigee

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

const _nodeModules = "node_modules"

type BundleOptions struct {
	API          string
	Main         string
	Directory    string
	BasePath     string
	VirtualHosts []string
}

// Bundle is a zipped apiproxy ready for import.
type Bundle struct {
	Data []byte
	// Digest is the hex encoded BLAKE3 sum of Data.
	Digest string
}

// BuildBundle packages a Node.js app directory as an apiproxy bundle with a
// single proxy endpoint routed to a script target running opts.Main.
func BuildBundle(opts BundleOptions) (*Bundle, error) {
	appZip, err := zipDir(opts.Directory, "", func(rel string) bool {
		return rel != _nodeModules && !strings.HasPrefix(rel, _nodeModules+"/")
	})
	if err != nil {
		return nil, fmt.Errorf("error zipping app: %w", err)
	}

	files := []bundleFile{
		{name: "apiproxy/" + opts.API + ".xml", doc: proxyDescriptor(opts)},
		{name: "apiproxy/proxies/default.xml", doc: proxyEndpoint(opts)},
		{name: "apiproxy/targets/default.xml", doc: targetEndpoint(opts)},
		{name: "apiproxy/resources/node/app.zip", data: appZip},
	}

	if info, err := os.Stat(filepath.Join(opts.Directory, _nodeModules)); err == nil && info.IsDir() {
		modulesZip, err := zipDir(filepath.Join(opts.Directory, _nodeModules), _nodeModules, func(string) bool { return true })
		if err != nil {
			return nil, fmt.Errorf("error zipping node modules: %w", err)
		}
		files = append(files, bundleFile{name: "apiproxy/resources/node/node_modules.zip", data: modulesZip})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		data := f.data
		if f.doc != nil {
			f.doc.Indent(2)
			if data, err = f.doc.WriteToBytes(); err != nil {
				return nil, fmt.Errorf("error writing %s: %w", f.name, err)
			}
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	sum := blake3.Sum256(buf.Bytes())
	return &Bundle{Data: buf.Bytes(), Digest: hex.EncodeToString(sum[:])}, nil
}

type bundleFile struct {
	name string
	data []byte
	doc  *etree.Document
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	return doc
}

func proxyDescriptor(opts BundleOptions) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("APIProxy")
	root.CreateAttr("name", opts.API)
	root.CreateElement("Description").SetText(opts.API + " Node.js application")
	root.CreateElement("ProxyEndpoints").CreateElement("ProxyEndpoint").SetText("default")
	root.CreateElement("TargetEndpoints").CreateElement("TargetEndpoint").SetText("default")
	root.CreateElement("Resources").CreateElement("Resource").SetText("node://" + opts.Main)
	return doc
}

func proxyEndpoint(opts BundleOptions) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("ProxyEndpoint")
	root.CreateAttr("name", "default")

	for _, flow := range []string{"PreFlow", "PostFlow"} {
		el := root.CreateElement(flow)
		el.CreateAttr("name", flow)
		el.CreateElement("Request")
		el.CreateElement("Response")
	}

	conn := root.CreateElement("HTTPProxyConnection")
	conn.CreateElement("BasePath").SetText(opts.BasePath)
	for _, host := range opts.VirtualHosts {
		conn.CreateElement("VirtualHost").SetText(host)
	}

	route := root.CreateElement("RouteRule")
	route.CreateAttr("name", "default")
	route.CreateElement("TargetEndpoint").SetText("default")
	return doc
}

func targetEndpoint(opts BundleOptions) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("TargetEndpoint")
	root.CreateAttr("name", "default")
	script := root.CreateElement("ScriptTarget")
	script.CreateElement("ResourceURL").SetText("node://" + opts.Main)
	return doc
}

// JavaCalloutDefinition renders the step definition of a Java callout policy
// backed by a jar resource of the same proxy revision.
func JavaCalloutDefinition(name, resource, className string) ([]byte, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("JavaCallout")
	root.CreateAttr("name", name)
	root.CreateElement("ResourceURL").SetText("java://" + resource)
	root.CreateElement("ClassName").SetText(className)
	return doc.WriteToBytes()
}

// zipDir zips every file under root for which include returns true. Entry
// names are slash separated, relative to root and prefixed with prefix.
func zipDir(root, prefix string, include func(rel string) bool) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if !include(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: path.Join(prefix, rel), Method: zip.Deflate})
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
