package scorer

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"text/template"

	"github.com/echelon-labs/verify/internal/app/apperr"
)

//go:embed prompts
var promptFS embed.FS

// promptBundle holds one version's loaded-and-parsed templates,
// immutable after load per the pipeline's "templates are immutable
// once loaded" design.
type promptBundle struct {
	templates map[string]*template.Template
}

var (
	bundlesOnce sync.Once
	bundles     map[string]*promptBundle
	bundlesErr  error
)

// loadBundles parses every version directory's manifest and templates
// exactly once per process, regardless of how many Scorers are built.
func loadBundles() (map[string]*promptBundle, error) {
	bundlesOnce.Do(func() {
		bundles = make(map[string]*promptBundle)

		entries, err := promptFS.ReadDir("prompts")
		if err != nil {
			bundlesErr = apperr.Wrap(apperr.CodeConfiguration, "read prompts directory", err)
			return
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			version := entry.Name()
			bundle, err := loadBundle(version)
			if err != nil {
				bundlesErr = err
				return
			}
			bundles[version] = bundle
		}
	})
	return bundles, bundlesErr
}

func loadBundle(version string) (*promptBundle, error) {
	manifestPath := path.Join("prompts", version, "manifest.json")
	raw, err := promptFS.ReadFile(manifestPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("read manifest for prompt version %s", version), err)
	}

	var manifest map[string]string
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("parse manifest for prompt version %s", version), err)
	}

	bundle := &promptBundle{templates: make(map[string]*template.Template, len(manifest))}
	for name, file := range manifest {
		tmplPath := path.Join("prompts", version, file)
		data, err := promptFS.ReadFile(tmplPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("read template %s/%s", version, file), err)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("parse template %s/%s", version, file), err)
		}
		bundle.templates[name] = tmpl
	}
	return bundle, nil
}

// render interpolates the named template for the given version with
// data. A missing placeholder in data is a programmer error per the
// pipeline's hard-fail-not-model-error rule, surfaced here as a
// configuration error rather than silently rendering "<no value>".
func render(version, name string, data any) (string, error) {
	loaded, err := loadBundles()
	if err != nil {
		return "", err
	}
	bundle, ok := loaded[version]
	if !ok {
		return "", apperr.Configuration("scorer: unknown prompt version %q", version)
	}
	tmpl, ok := bundle.templates[name]
	if !ok {
		return "", apperr.Configuration("scorer: prompt %q not found in version %q", name, version)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", apperr.Wrap(apperr.CodeConfiguration, fmt.Sprintf("render prompt %s/%s", version, name), err)
	}
	return buf.String(), nil
}
