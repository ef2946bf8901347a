package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/lomehong/pluginkit/pkg/hooks"
)

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validator 插件描述验证器
type Validator interface {
	Validate(p *Plugin) ValidationResult
}

// ValidatorFunc 函数形式的验证器
type ValidatorFunc func(p *Plugin) ValidationResult

// Validate 实现Validator接口
func (f ValidatorFunc) Validate(p *Plugin) ValidationResult { return f(p) }

var (
	namePattern      = regexp.MustCompile(`^[a-z0-9-]+$`)
	tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	reservedNames  = []string{"core", "system", "admin", "api", "auth", "content", "media", "users", "collections"}
	reservedPaths  = []string{"/admin", "/api", "/auth", "/docs", "/media", "/_assets"}
	systemTables   = []string{"users", "collections", "content", "content_versions", "media", "api_tokens"}
	systemServices = []string{"auth", "content", "media", "cdn"}
	commonLicenses = []string{"MIT", "Apache-2.0", "GPL-3.0", "BSD-3-Clause", "ISC"}
)

const (
	maxMiddlewareHint = 5
	maxHooksHint      = 10
)

// DefaultValidator 默认验证规则
type DefaultValidator struct{}

// NewDefaultValidator 创建默认验证器
func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate 验证插件描述
func (v *DefaultValidator) Validate(p *Plugin) ValidationResult {
	var errs, warns []string
	if p == nil {
		return ValidationResult{Valid: false, Errors: []string{"plugin is nil"}}
	}

	switch {
	case p.Name == "":
		errs = append(errs, "name: must not be empty")
	case !namePattern.MatchString(p.Name):
		errs = append(errs, "name: Plugin name must be lowercase with hyphens")
	case contains(reservedNames, p.Name):
		errs = append(errs, fmt.Sprintf("Plugin name %q is reserved", p.Name))
	}

	if _, err := semver.StrictNewVersion(p.Version); err != nil {
		errs = append(errs, "version: Version must be valid semver")
	}

	for _, r := range p.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Sprintf("Route path %q must start with /", r.Path))
		} else if hasReservedPrefix(r.Path) {
			errs = append(errs, fmt.Sprintf("Route path %q conflicts with reserved system path", r.Path))
		}
		if r.Handler == nil {
			errs = append(errs, fmt.Sprintf("Route %q has no handler", r.Path))
		}
	}

	models := map[string]bool{}
	tables := map[string]bool{}
	for _, m := range p.Models {
		if models[m.Name] {
			errs = append(errs, "Duplicate model name: "+m.Name)
		}
		models[m.Name] = true
		if tables[m.TableName] {
			errs = append(errs, "Duplicate table name: "+m.TableName)
		}
		tables[m.TableName] = true
		if !tableNamePattern.MatchString(m.TableName) {
			errs = append(errs, "Invalid table name format: "+m.TableName)
		}
		if contains(systemTables, m.TableName) {
			errs = append(errs, fmt.Sprintf("Table name %q conflicts with system table", m.TableName))
		}
	}

	services := map[string]bool{}
	for _, s := range p.Services {
		if services[s.Name] {
			errs = append(errs, "Duplicate service name: "+s.Name)
		}
		services[s.Name] = true
		if contains(systemServices, s.Name) {
			warns = append(warns, fmt.Sprintf("Service name %q conflicts with system service", s.Name))
		}
	}

	for _, m := range p.Middleware {
		if m.Handler == nil {
			errs = append(errs, fmt.Sprintf("Middleware %q has no handler", m.Name))
		}
	}

	for _, h := range p.Hooks {
		if h.Handler == nil {
			errs = append(errs, fmt.Sprintf("Hook %q has no handler", h.Name))
		}
		if !hooks.IsNamespaced(h.Name) {
			warns = append(warns, fmt.Sprintf("Hook name %q should include namespace (e.g., \"plugin:event\")", h.Name))
		}
	}

	if contains(p.Dependencies, p.Name) {
		errs = append(errs, "Plugin cannot depend on itself")
	}

	if p.License != "" && !contains(commonLicenses, p.License) {
		warns = append(warns, fmt.Sprintf("License %q is not a common SPDX identifier", p.License))
	}
	if len(p.Middleware) > maxMiddlewareHint {
		warns = append(warns, fmt.Sprintf("Plugin defines %d middleware functions, consider consolidating", len(p.Middleware)))
	}
	if len(p.Hooks) > maxHooksHint {
		warns = append(warns, fmt.Sprintf("Plugin defines %d hooks, ensure they are necessary", len(p.Hooks)))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

// ValidateCompatibility 检查插件的宿主版本约束
func ValidateCompatibility(p *Plugin, hostVersion string) ValidationResult {
	if p.Compatibility == "" {
		return ValidationResult{Valid: true, Warnings: []string{"Plugin does not specify compatibility version"}}
	}

	constraint, err := semver.NewConstraint(p.Compatibility)
	if err != nil {
		return ValidationResult{Errors: []string{"Invalid compatibility version format: " + p.Compatibility}}
	}
	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return ValidationResult{Errors: []string{"Invalid host version: " + hostVersion}}
	}
	if !constraint.Check(host) {
		return ValidationResult{Errors: []string{
			fmt.Sprintf("Plugin requires host %s, but current version is %s", p.Compatibility, hostVersion),
		}}
	}
	return ValidationResult{Valid: true}
}

func hasReservedPrefix(path string) bool {
	for _, prefix := range reservedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
