package rules

import (
	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
)

// Catalog returns the full rule set in evaluation order.
func Catalog() []Rule {
	return []Rule{
		// Technical
		{
			ID: "seed-unreachable", Category: Technical, Severity: Critical,
			Title:       "Start page unreachable",
			Description: "The start URL could not be fetched, so nothing behind it was audited.",
			Fix:         "Make sure the start URL responds with HTTP 200 and is not blocked by robots.txt.",
			Site:        seedUnreachable,
		},
		{
			ID: "broken-internal-link", Category: Technical, Severity: High,
			Title:       "Broken internal links",
			Description: "The page links to internal URLs that return an error or cannot be reached.",
			Fix:         "Update or remove the links, or restore the missing pages.",
			Site:        brokenInternalLinks,
		},
		{
			ID: "redirect-loop", Category: Technical, Severity: Critical,
			Title:       "Redirect loop",
			Description: "Following the URL's redirects leads back to a URL already visited.",
			Fix:         "Point the redirect at a final page that returns HTTP 200.",
			Site:        redirectStatusCheck(crawler.RedirectLoop),
		},
		{
			ID: "redirect-chain-too-long", Category: Technical, Severity: High,
			Title:       "Redirect chain too long",
			Description: "The URL redirects more times than crawlers will follow.",
			Fix:         "Redirect straight to the final destination.",
			Site:        redirectStatusCheck(crawler.RedirectChainTooLong),
		},
		{
			ID: "redirect-chain", Category: Technical, Severity: Medium,
			Title:       "Redirect chain",
			Description: "The URL reaches its destination through more than one redirect.",
			Fix:         "Collapse the chain into a single redirect.",
			Site:        redirectChains,
		},
		{
			ID: "orphan-page", Category: Technical, Severity: Medium,
			Title:       "Orphan page",
			Description: "No other crawled page links to this page.",
			Fix:         "Link to the page from relevant content or navigation.",
			Site:        orphanPages,
		},
		{
			ID: "sitemap-orphan", Category: Technical, Severity: Low,
			Title:       "Sitemap URL without internal links",
			Description: "The URL is listed in the sitemap but no crawled page links to it.",
			Fix:         "Add internal links to the page or remove it from the sitemap.",
			Site:        sitemapOrphans,
		},
		{
			ID: "sitemap-missing", Category: Technical, Severity: Medium,
			Title:       "No XML sitemap",
			Description: "No sitemap was declared in robots.txt or found at /sitemap.xml.",
			Fix:         "Publish an XML sitemap and reference it from robots.txt.",
			Site:        sitemapMissing,
		},
		{
			ID: "sitemap-url-not-crawled", Category: Technical, Severity: Medium,
			Title:       "Sitemap URLs not reached",
			Description: "URLs listed in the sitemap were not reached or did not load during the crawl.",
			Fix:         "Remove stale URLs from the sitemap and fix any that fail to load.",
			Site:        sitemapURLsNotCrawled,
		},
		{
			ID: "page-not-in-sitemap", Category: Technical, Severity: Low,
			Title:       "Pages missing from sitemap",
			Description: "Indexable pages were found by crawling but are not listed in the sitemap.",
			Fix:         "Add the pages to the sitemap.",
			Site:        pagesNotInSitemap,
		},
		{
			ID: "robots-missing", Category: Technical, Severity: Low,
			Title:       "No robots.txt",
			Description: "The site has no reachable robots.txt file.",
			Fix:         "Publish a robots.txt that lists your sitemap.",
			Site:        robotsMissing,
		},
		{
			ID: "noindex-page", Category: Technical, Severity: High,
			Title:       "Page excluded from indexing",
			Description: "A robots meta tag or X-Robots-Tag header tells search engines not to index the page.",
			Fix:         "Remove noindex if the page should appear in search results.",
			Page:        noindexPage,
		},
		{
			ID: "canonical-missing", Category: Technical, Severity: Low,
			Title:       "Missing canonical tag",
			Description: "The page does not declare a canonical URL.",
			Fix:         `Add <link rel="canonical"> pointing at the preferred URL.`,
			Page:        canonicalMissing,
		},
		{
			ID: "canonical-mismatch", Category: Technical, Severity: Low,
			Title:       "Canonical points elsewhere",
			Description: "The page's canonical URL is a different page.",
			Fix:         "Check that the page is meant to be a duplicate of its canonical target.",
			Page:        canonicalMismatch,
		},
		{
			ID: "canonical-chain", Category: Technical, Severity: Medium,
			Title:       "Canonical chain",
			Description: "The canonical target itself declares a different canonical URL.",
			Fix:         "Point the canonical straight at the final preferred URL.",
			Page:        canonicalChain,
		},
		{
			ID: "canonical-broken", Category: Technical, Severity: High,
			Title:       "Broken canonical",
			Description: "The canonical URL is invalid or cannot be fetched.",
			Fix:         "Point the canonical at a valid page that returns HTTP 200.",
			Page:        canonicalBroken,
		},
		{
			ID: "duplicate-title", Category: Technical, Severity: Medium,
			Title:       "Duplicate titles",
			Description: "Several indexable pages share the same title.",
			Fix:         "Give each page a unique title.",
			Site:        duplicates(func(r *analyzer.PageRecord) string { return r.Title }),
		},
		{
			ID: "duplicate-meta-description", Category: Technical, Severity: Low,
			Title:       "Duplicate meta descriptions",
			Description: "Several indexable pages share the same meta description.",
			Fix:         "Write a unique description for each page.",
			Site:        duplicates(func(r *analyzer.PageRecord) string { return r.MetaDescription }),
		},
		{
			ID: "url-too-long", Category: Technical, Severity: Low,
			Title:       "URL too long",
			Description: "Long URLs are harder to share and are truncated in search results.",
			Fix:         "Shorten the URL path.",
			Page:        urlTooLong,
		},
		{
			ID: "url-structure", Category: Technical, Severity: Low,
			Title:       "Unfriendly URL structure",
			Description: "The URL path contains uppercase letters or underscores.",
			Fix:         "Use lowercase paths with hyphens between words.",
			Page:        urlStructure,
		},
		{
			ID: "url-parameters", Category: Technical, Severity: Low,
			Title:       "Too many URL parameters",
			Description: "URLs with many query parameters can create crawlable duplicates.",
			Fix:         "Reduce parameters or canonicalise parameterised URLs.",
			Page:        urlParameters,
		},
		{
			ID: "deep-page", Category: Technical, Severity: Low,
			Title:       "Page buried deep in the site",
			Description: "The page is more than three clicks from the start page.",
			Fix:         "Link to the page from higher-level pages.",
			Page:        deepPage,
		},
		{
			ID: "insecure-page", Category: Technical, Severity: High,
			Title:       "Page served over HTTP",
			Description: "The page is not served over HTTPS.",
			Fix:         "Serve the site over HTTPS and redirect HTTP to HTTPS.",
			Page:        insecurePage,
		},
		{
			ID: "analysis-failed", Category: Technical, Severity: Medium,
			Title:       "Page could not be analysed",
			Description: "The page body was empty or could not be decoded.",
			Fix:         "Make sure the page returns valid HTML with a correct charset.",
			Page:        analysisFailed,
		},
		{
			ID: "invalid-link", Category: Technical, Severity: Low,
			Title:       "Malformed links",
			Description: "The page contains links whose href cannot be parsed.",
			Fix:         "Correct the href values.",
			Page:        invalidLinks,
		},
		{
			ID: "slow-server-response", Category: Technical, Severity: Low,
			Title:       "Slow server response",
			Description: "The server took too long to send the first byte.",
			Fix:         "Improve server-side caching or hosting performance.",
			Page:        slowServerResponse,
		},
		{
			ID: "soft-404", Category: Technical, Severity: Medium,
			Title:       "Soft 404",
			Description: "The page returns HTTP 200 but looks like an error page.",
			Fix:         "Return HTTP 404 or 410 for missing content.",
			Page:        soft404,
		},
		{
			ID: "large-page", Category: Technical, Severity: Low,
			Title:       "Large HTML document",
			Description: "The HTML document is unusually large.",
			Fix:         "Reduce inline scripts, styles and markup.",
			Page:        largePage,
		},
		{
			ID: "internal-link-redirect", Category: Technical, Severity: Low,
			Title:       "Internal links to redirects",
			Description: "The page links to internal URLs that redirect elsewhere.",
			Fix:         "Link directly to the final URLs.",
			Page:        internalLinkRedirects,
		},
		{
			ID: "hsts-missing", Category: Technical, Severity: Medium,
			Title:       "HSTS header missing",
			Description: "HTTPS pages are served without a Strict-Transport-Security header, so browsers may still try plain HTTP.",
			Fix:         "Send Strict-Transport-Security: max-age=31536000; includeSubDomains on every HTTPS response.",
			Site:        headerCheck(hstsMissing),
		},
		{
			ID: "hsts-weak", Category: Technical, Severity: Low,
			Title:       "Weak HSTS policy",
			Description: "The Strict-Transport-Security max-age is under one year or the policy does not cover subdomains.",
			Fix:         "Use max-age=31536000 or longer and add includeSubDomains.",
			Site:        headerCheck(hstsWeak),
		},
		{
			ID: "server-version-disclosed", Category: Technical, Severity: Low,
			Title:       "Server version disclosed",
			Description: "The Server or X-Powered-By header reveals software version numbers.",
			Fix:         "Strip version numbers from Server and X-Powered-By headers.",
			Site:        headerCheck(serverVersionDisclosed),
		},
		{
			ID: "content-type-options-missing", Category: Technical, Severity: Low,
			Title:       "X-Content-Type-Options missing",
			Description: "Pages are served without X-Content-Type-Options: nosniff.",
			Fix:         "Send X-Content-Type-Options: nosniff on every response.",
			Site:        headerCheck(contentTypeOptionsMissing),
		},
		{
			ID: "frame-options-missing", Category: Technical, Severity: Low,
			Title:       "Clickjacking protection missing",
			Description: "Pages set neither X-Frame-Options nor a Content-Security-Policy frame-ancestors directive.",
			Fix:         "Send X-Frame-Options: SAMEORIGIN or a frame-ancestors policy.",
			Site:        headerCheck(frameOptionsMissing),
		},

		// On-page
		{
			ID: "title-missing", Category: OnPage, Severity: Critical,
			Title:       "Missing title",
			Description: "The page has no <title>.",
			Fix:         "Add a descriptive title of 50 to 60 characters.",
			Page:        titleMissing,
		},
		{
			ID: "title-too-short", Category: OnPage, Severity: Medium,
			Title:       "Title too short",
			Description: "Short titles waste space in search results.",
			Fix:         "Expand the title to 50 to 60 characters.",
			Page:        lengthCheck(titleOf, minTitleLength, maxTitleLength, true),
		},
		{
			ID: "title-too-long", Category: OnPage, Severity: High,
			Title:       "Title too long",
			Description: "Long titles are truncated in search results.",
			Fix:         "Shorten the title to at most 60 characters.",
			Page:        lengthCheck(titleOf, minTitleLength, maxTitleLength, false),
		},
		{
			ID: "meta-description-missing", Category: OnPage, Severity: High,
			Title:       "Missing meta description",
			Description: "The page has no meta description.",
			Fix:         "Add a meta description of 150 to 160 characters.",
			Page:        metaDescriptionMissing,
		},
		{
			ID: "meta-description-too-short", Category: OnPage, Severity: Medium,
			Title:       "Meta description too short",
			Description: "The meta description is shorter than recommended.",
			Fix:         "Expand the description to 150 to 160 characters.",
			Page:        lengthCheck(descriptionOf, minDescriptionLength, maxDescriptionLength, true),
		},
		{
			ID: "meta-description-too-long", Category: OnPage, Severity: Medium,
			Title:       "Meta description too long",
			Description: "The meta description will be truncated in search results.",
			Fix:         "Shorten the description to at most 160 characters.",
			Page:        lengthCheck(descriptionOf, minDescriptionLength, maxDescriptionLength, false),
		},
		{
			ID: "h1-missing", Category: OnPage, Severity: High,
			Title:       "Missing H1",
			Description: "The page has no h1 heading.",
			Fix:         "Add one h1 that describes the page.",
			Page:        h1Missing,
		},
		{
			ID: "h1-multiple", Category: OnPage, Severity: Medium,
			Title:       "Multiple H1 headings",
			Description: "The page has more than one h1 heading.",
			Fix:         "Keep one h1 and demote the rest.",
			Page:        h1Multiple,
		},
		{
			ID: "heading-hierarchy-skip", Category: OnPage, Severity: Low,
			Title:       "Skipped heading level",
			Description: "A heading jumps more than one level below the previous heading.",
			Fix:         "Nest headings in order without skipping levels.",
			Page:        headingHierarchySkip,
		},
		{
			ID: "thin-content", Category: OnPage, Severity: Medium,
			Title:       "Thin content",
			Description: "The page has very little visible text.",
			Fix:         "Add substantive content or consolidate the page.",
			Page:        thinContent,
		},
		{
			ID: "no-internal-links", Category: OnPage, Severity: Medium,
			Title:       "No internal links",
			Description: "The page does not link to any other page on the site.",
			Fix:         "Link to related pages.",
			Page:        noInternalLinks,
		},

		// Performance
		{
			ID: "lcp-poor", Category: Performance, Severity: High,
			Title:       "Slow Largest Contentful Paint",
			Description: "The main content takes too long to render.",
			Fix:         "Optimise the largest image or text block and reduce render-blocking resources.",
			Site:        durationCheck(lcpOf, maxLCP),
		},
		{
			ID: "inp-poor", Category: Performance, Severity: High,
			Title:       "Slow Interaction to Next Paint",
			Description: "The page responds slowly to user input.",
			Fix:         "Break up long main-thread tasks and reduce JavaScript.",
			Site:        durationCheck(inpOf, maxINP),
		},
		{
			ID: "cls-poor", Category: Performance, Severity: Medium,
			Title:       "High Cumulative Layout Shift",
			Description: "Content moves around while the page loads.",
			Fix:         "Reserve space for images, embeds and injected content.",
			Site:        layoutShift,
		},
		{
			ID: "load-time-slow", Category: Performance, Severity: Medium,
			Title:       "Slow page load",
			Description: "The page takes too long to become interactive.",
			Fix:         "Reduce page weight and defer non-critical scripts.",
			Site:        durationCheck(loadOf, maxLoadTime),
		},

		// Accessibility
		{
			ID: "image-alt-missing", Category: Accessibility, Severity: Medium,
			Title:       "Images without alt text",
			Description: "Images have no alt attribute.",
			Fix:         `Describe each image in its alt attribute, or use alt="" for decorative images.`,
			Page:        imageAltMissing,
		},
		{
			ID: "html-lang-missing", Category: Accessibility, Severity: Medium,
			Title:       "Missing language attribute",
			Description: "The html element has no lang attribute.",
			Fix:         `Add lang to the html element, for example <html lang="en">.`,
			Page:        htmlLangMissing,
		},
		{
			ID: "empty-link-text", Category: Accessibility, Severity: Low,
			Title:       "Links without text",
			Description: "Links have no text, aria-label, title or image alt.",
			Fix:         "Give every link a descriptive accessible name.",
			Page:        emptyLinkText,
		},

		// Modern SEO
		{
			ID: "structured-data-missing", Category: ModernSEO, Severity: Low,
			Title:       "No structured data",
			Description: "The page has no valid JSON-LD or microdata.",
			Fix:         "Add schema.org markup that describes the page.",
			Page:        structuredDataMissing,
		},
		{
			ID: "structured-data-invalid", Category: ModernSEO, Severity: Medium,
			Title:       "Invalid structured data",
			Description: "Structured data on the page could not be parsed or has no type.",
			Fix:         "Fix the JSON-LD syntax and include @type.",
			Page:        structuredDataInvalid,
		},
		{
			ID: "open-graph-missing", Category: ModernSEO, Severity: Low,
			Title:       "Incomplete Open Graph tags",
			Description: "Social previews need og:title, og:description and og:image.",
			Fix:         "Add the missing Open Graph meta tags.",
			Page:        openGraphMissing,
		},
		{
			ID: "viewport-missing", Category: ModernSEO, Severity: Medium,
			Title:       "Missing viewport meta tag",
			Description: "Without a viewport tag the page will not scale on mobile devices.",
			Fix:         `Add <meta name="viewport" content="width=device-width, initial-scale=1">.`,
			Page:        viewportMissing,
		},
		{
			ID: "mixed-content", Category: ModernSEO, Severity: High,
			Title:       "Mixed content",
			Description: "The HTTPS page loads resources over HTTP.",
			Fix:         "Load every resource over HTTPS.",
			Page:        mixedContent,
		},
		{
			ID: "cdn-not-detected", Category: ModernSEO, Severity: Low,
			Title:       "No CDN detected",
			Description: "The start page does not appear to be served through a CDN.",
			Fix:         "Serve static assets and pages through a CDN.",
			Site:        cdnNotDetected,
		},
	}
}
