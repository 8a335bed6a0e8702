// Package render expands variant properties into resource templates such as mods.toml
// and pack.mcmeta.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
	"github.com/CyberDay1/the-expanse/pkg/registry"
)

var (
	DefaultFiles = []string{
		"META-INF/neoforge.mods.toml",
		"META-INF/mods.toml",
		"pack.mcmeta",
	}

	// DefaultAliases maps the short template names to property keys.
	DefaultAliases = map[string]string{
		"version":    "MOD_VERSION",
		"modVersion": "MOD_VERSION",
		"mcVersion":  "MC_VERSION",
		"neoVersion": "NEOFORGE_VERSION",
		"packFormat": "PACK_FORMAT",
	}
)

const DefaultTemplateDir = "src/main/resources"

type Options struct {
	ProjectRoot string
	// TemplateDir is looked up in the variant directory first, then in the project root.
	TemplateDir string
	// Files are glob patterns relative to TemplateDir.
	Files   []string
	Aliases map[string]string
	OutDir  string
}

// Render writes the expanded templates of v to OutDir/<variant>/ and returns the written paths.
// Templates that don't exist are skipped; a reference to an unknown property is an error.
func Render(ctx context.Context, v *registry.Variant, opts Options) ([]string, error) {
	if opts.TemplateDir == "" {
		opts.TemplateDir = DefaultTemplateDir
	}
	if len(opts.Files) == 0 {
		opts.Files = DefaultFiles
	}
	if opts.Aliases == nil {
		opts.Aliases = DefaultAliases
	}

	templateDir := findTemplateDir(v, opts)
	if templateDir == "" {
		buildsys.Log(ctx).Warn().Str("variant", v.Name()).Msgf("No %s directory found", opts.TemplateDir)
		return nil, nil
	}

	env := buildsys.VariantEnv(v, opts.ProjectRoot)
	for alias, key := range opts.Aliases {
		if value, ok := env[key]; ok {
			if _, taken := env[alias]; !taken {
				env[alias] = value
			}
		}
	}

	templates, err := buildsys.ResolvePatterns(templateDir, opts.Files)
	if err != nil {
		return nil, err
	}

	destDir := filepath.Join(opts.OutDir, v.Name())
	written := make([]string, 0, len(templates))
	for _, item := range templates {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				buildsys.Log(ctx).Debug().Str("path", item).Msg("Template not found, skipping")
				continue
			}
			return written, eris.Wrapf(err, "failed to stat %s", item)
		}
		if info.IsDir() {
			continue
		}

		rel, err := filepath.Rel(templateDir, item)
		if err != nil {
			return written, eris.Wrapf(err, "failed to resolve %s", item)
		}

		dest := filepath.Join(destDir, rel)
		err = renderFile(item, dest, info.Mode(), env)
		if err != nil {
			return written, &registry.ConfigurationError{Variant: v.Name(), Msg: fmt.Sprintf("failed to render %s: %s", rel, err)}
		}

		buildsys.Log(ctx).Debug().Str("variant", v.Name()).Str("path", dest).Msg("Rendered template")
		written = append(written, dest)
	}

	return written, nil
}

func findTemplateDir(v *registry.Variant, opts Options) string {
	if filepath.IsAbs(opts.TemplateDir) {
		return opts.TemplateDir
	}

	for _, base := range []string{v.Dir(), opts.ProjectRoot} {
		if base == "" {
			continue
		}

		dir := filepath.Join(base, opts.TemplateDir)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	return ""
}

func renderFile(source, dest string, mode os.FileMode, env map[string]string) error {
	content, err := os.ReadFile(source)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", source)
	}

	expanded, err := expandTokens(string(content), env)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(dest), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	return os.WriteFile(dest, []byte(expanded), mode)
}

var tokenPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// expandTokens replaces $NAME and ${NAME} tokens. Everything else, including quotes,
// backticks and backslashes, is copied verbatim.
func expandTokens(content string, env map[string]string) (string, error) {
	var firstErr error
	result := tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		if firstErr != nil {
			return token
		}

		value, err := buildsys.ExpandString(token, env)
		if err != nil {
			firstErr = err
			return token
		}
		return value
	})

	return result, firstErr
}
