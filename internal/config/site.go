package config

// SiteConfig holds per-site overrides for a single domain.
type SiteConfig struct {
	// DenyPatterns are URL path patterns excluded from crawling on this
	// site. Patterns use glob syntax (e.g. "/admin/*", "*.pdf").
	DenyPatterns []string `yaml:"denyPatterns,omitempty"`

	// Headers are extra HTTP headers sent with requests to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site.
	// If zero, the global depth is used.
	Depth int `yaml:"depth,omitempty"`

	// ExtraDelayMillis is added to the politeness delay for this site.
	ExtraDelayMillis int `yaml:"extraDelayMillis,omitempty"`

	// SkipRobots disables robots.txt checking for this site. Use only
	// for sites you operate.
	SkipRobots bool `yaml:"skipRobots,omitempty"`
}

// File represents the structure of the .spindle configuration file.
type File struct {
	// Sites maps domains to their overrides. Keys are bare hostnames
	// (e.g. "example.com").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults is applied to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the merged configuration for a domain:
// site-specific values override the defaults.
func (cf *File) GetSiteConfig(domain string) SiteConfig {
	result := cf.Defaults

	if siteConfig, ok := cf.Sites[domain]; ok {
		if len(siteConfig.DenyPatterns) > 0 {
			result.DenyPatterns = siteConfig.DenyPatterns
		}
		if siteConfig.Depth != 0 {
			result.Depth = siteConfig.Depth
		}
		if siteConfig.ExtraDelayMillis != 0 {
			result.ExtraDelayMillis = siteConfig.ExtraDelayMillis
		}
		if siteConfig.SkipRobots {
			result.SkipRobots = true
		}
		if len(siteConfig.Headers) > 0 {
			merged := make(map[string]string, len(result.Headers)+len(siteConfig.Headers))
			for k, v := range result.Headers {
				merged[k] = v
			}
			for k, v := range siteConfig.Headers {
				merged[k] = v
			}
			result.Headers = merged
		}
	}

	return result
}

// SkipRobotsHosts lists every domain with robots checking disabled.
func (cf *File) SkipRobotsHosts() []string {
	var hosts []string
	for domain, site := range cf.Sites {
		if site.SkipRobots || cf.Defaults.SkipRobots {
			hosts = append(hosts, domain)
		}
	}
	return hosts
}

// AllDenyPatterns merges the default deny patterns with every site's
// patterns, for feeding the link discoverer a single global list.
func (cf *File) AllDenyPatterns() []string {
	seen := make(map[string]struct{})
	var patterns []string
	add := func(list []string) {
		for _, p := range list {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				patterns = append(patterns, p)
			}
		}
	}
	add(cf.Defaults.DenyPatterns)
	for _, site := range cf.Sites {
		add(site.DenyPatterns)
	}
	return patterns
}
