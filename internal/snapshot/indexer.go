package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/polzovatel/browser-task-engine/internal/browser"
)

// Config bounds one extraction.
type Config struct {
	MaxElements int
	AXDepth     int
}

func (c *Config) applyDefaults() {
	if c.MaxElements <= 0 {
		c.MaxElements = 150
	}
	if c.AXDepth <= 0 {
		c.AXDepth = 4
	}
}

// Indexer extracts structured, indexed snapshots of the current page.
type Indexer struct {
	ctrl   browser.Controller
	cfg    Config
	logger zerolog.Logger
}

func NewIndexer(ctrl browser.Controller, cfg Config, logger zerolog.Logger) *Indexer {
	cfg.applyDefaults()
	return &Indexer{ctrl: ctrl, cfg: cfg, logger: logger}
}

// Extract runs all read-only probes concurrently and joins them into one
// snapshot. Any probe failure fails the whole extraction; partial snapshots
// are never returned.
func (ix *Indexer) Extract(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	snap := &Snapshot{Timestamp: started}

	g, gctx := errgroup.WithContext(ctx)

	var raws []rawElement
	g.Go(func() error {
		val, err := ix.ctrl.Evaluate(gctx, elementProbeScript, ix.cfg.MaxElements*2)
		if err != nil {
			return fmt.Errorf("element probe: %w", err)
		}
		return decode(val, &raws)
	})

	g.Go(func() error {
		title, err := ix.ctrl.Title(gctx)
		if err != nil {
			return fmt.Errorf("page meta: %w", err)
		}
		snap.Title = title
		snap.URL = ix.ctrl.URL(gctx)
		val, err := ix.ctrl.Evaluate(gctx, viewportScript)
		if err != nil {
			return fmt.Errorf("viewport: %w", err)
		}
		return decode(val, &snap.Viewport)
	})

	g.Go(func() error {
		val, err := ix.ctrl.Evaluate(gctx, scrollMetricsScript)
		if err != nil {
			return fmt.Errorf("scroll metrics: %w", err)
		}
		return decode(val, &snap.Scroll)
	})

	g.Go(func() error {
		val, err := ix.ctrl.Evaluate(gctx, frameworkScript)
		if err != nil {
			return fmt.Errorf("framework fingerprint: %w", err)
		}
		if s, ok := val.(string); ok {
			snap.Framework = s
		}
		return nil
	})

	g.Go(func() error {
		val, err := ix.ctrl.Evaluate(gctx, modalScanScript)
		if err != nil {
			return fmt.Errorf("modal scan: %w", err)
		}
		return decode(val, &snap.Modals)
	})

	g.Go(func() error {
		val, err := ix.ctrl.Evaluate(gctx, axTreeScript, ix.cfg.AXDepth)
		if err != nil {
			return fmt.Errorf("accessibility tree: %w", err)
		}
		return decode(val, &snap.AXTree)
	})

	g.Go(func() error {
		tabs, err := ix.ctrl.Tabs(gctx)
		if err != nil {
			return fmt.Errorf("tabs: %w", err)
		}
		snap.Tabs = tabs
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract snapshot: %w", err)
	}

	snap.Elements = processElements(raws, ix.cfg.MaxElements)

	ix.logger.Debug().
		Str("url", snap.URL).
		Int("elements", len(snap.Elements)).
		Int("modals", len(snap.Modals)).
		Dur("took", time.Since(started)).
		Msg("snapshot extracted")
	return snap, nil
}

// decode round-trips an Evaluate result through JSON into a typed value.
func decode(val any, out any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal probe result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode probe result: %w", err)
	}
	return nil
}

// elementProbeScript selects interactivity-relevant nodes (native
// interactive tags, interactive roles, explicit interaction hooks), filters
// to currently visible ones and reports raw records for Go-side derivation.
const elementProbeScript = `(limit) => {
	const interactiveRoles = new Set(["button","link","checkbox","radio","combobox","listbox","menuitem","menuitemcheckbox","menuitemradio","option","searchbox","slider","spinbutton","switch","tab","textbox"]);
	const selector = "a,button,input,select,textarea,summary,[role],[tabindex],[onclick],[contenteditable='true'],[data-testid]";
	const out = [];
	const seen = new Set();

	function visible(el, rect) {
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || Number(style.opacity) === 0) return false;
		return true;
	}

	function relevant(el) {
		const tag = el.tagName.toLowerCase();
		if (["a","button","input","select","textarea","summary"].includes(tag)) return true;
		const role = el.getAttribute("role");
		if (role && interactiveRoles.has(role.toLowerCase())) return true;
		if (el.hasAttribute("onclick") || el.hasAttribute("tabindex")) return true;
		if (el.getAttribute("contenteditable") === "true") return true;
		if (el.hasAttribute("data-testid")) return true;
		return false;
	}

	function xpathOf(el) {
		const parts = [];
		for (let node = el; node && node.nodeType === 1; node = node.parentElement) {
			let idx = 1;
			for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
				if (sib.tagName === node.tagName) idx++;
			}
			parts.unshift(node.tagName.toLowerCase() + "[" + idx + "]");
		}
		return "/" + parts.join("/");
	}

	function depthOf(el) {
		let d = 0;
		for (let node = el; node; node = node.parentElement) d++;
		return d;
	}

	function labelFor(el) {
		if (el.labels && el.labels.length > 0) return (el.labels[0].innerText || "").trim();
		if (el.id) {
			const linked = document.querySelector("label[for=\"" + CSS.escape(el.id) + "\"]");
			if (linked) return (linked.innerText || "").trim();
		}
		return "";
	}

	const vw = window.innerWidth, vh = window.innerHeight;
	for (const el of document.querySelectorAll(selector)) {
		if (out.length >= limit) break;
		if (seen.has(el) || !relevant(el)) continue;
		seen.add(el);
		const rect = el.getBoundingClientRect();
		if (!visible(el, rect)) continue;
		out.push({
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute("role") || "",
			type: el.getAttribute("type") || "",
			id: el.id || "",
			name: el.getAttribute("name") || "",
			class: el.className && el.className.toString ? el.className.toString() : "",
			href: el.getAttribute("href") || "",
			ariaLabel: el.getAttribute("aria-label") || "",
			labelText: labelFor(el),
			title: el.getAttribute("title") || "",
			placeholder: el.getAttribute("placeholder") || "",
			text: (el.innerText || el.value || "").trim().slice(0, 250),
			testId: el.getAttribute("data-testid") || "",
			x: rect.x, y: rect.y, width: rect.width, height: rect.height,
			inViewport: rect.bottom > 0 && rect.right > 0 && rect.top < vh && rect.left < vw,
			editable: ["input","textarea","select"].includes(el.tagName.toLowerCase()) || el.getAttribute("contenteditable") === "true",
			clickable: true,
			focusable: el.tabIndex >= 0,
			disabled: el.disabled === true || el.getAttribute("aria-disabled") === "true",
			depth: depthOf(el),
			xpath: xpathOf(el),
		});
	}
	return out;
}`

const viewportScript = `() => ({width: window.innerWidth, height: window.innerHeight})`

const scrollMetricsScript = `() => {
	const doc = document.documentElement;
	const height = Math.max(doc.scrollHeight, document.body ? document.body.scrollHeight : 0);
	const above = window.scrollY;
	const below = Math.max(0, height - window.innerHeight - above);
	return {x: window.scrollX, y: window.scrollY, pageHeight: height, pixelsAbove: above, pixelsBelow: below};
}`

const frameworkScript = `() => {
	if (window.React || document.querySelector("[data-reactroot]") || window.__REACT_DEVTOOLS_GLOBAL_HOOK__) return "react";
	if (window.__NUXT__ || window.Vue || document.querySelector("[data-v-app]")) return "vue";
	if (window.ng || document.querySelector("[ng-version]")) return "angular";
	if (window.Svelte || document.querySelector("[data-svelte]")) return "svelte";
	if (window.jQuery) return "jquery";
	return "";
}`

// modalScanScript finds visible overlay regions and does a naive discovery
// of their primary and dismiss controls. Hidden or tiny regions are skipped.
const modalScanScript = `() => {
	const out = [];
	const candidates = document.querySelectorAll("[role='dialog'],[role='alertdialog'],dialog[open],[aria-modal='true'],.modal,.popup,.overlay");
	for (const el of candidates) {
		const rect = el.getBoundingClientRect();
		if (rect.width < 80 || rect.height < 60) continue;
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") continue;

		let locator = "";
		if (el.id) locator = "#" + CSS.escape(el.id);
		else if (el.getAttribute("role")) locator = "[role='" + el.getAttribute("role") + "']";
		else locator = el.tagName.toLowerCase();

		let primary = "", dismiss = "";
		const buttons = el.querySelectorAll("button,[role='button'],input[type='submit'],a");
		for (const btn of buttons) {
			const label = ((btn.innerText || btn.value || "") + " " + (btn.getAttribute("aria-label") || "")).toLowerCase();
			if (!dismiss && /close|dismiss|cancel|no thanks|×|x$/.test(label.trim())) {
				dismiss = btn.id ? "#" + CSS.escape(btn.id) : locator + " " + btn.tagName.toLowerCase();
			} else if (!primary && /ok|accept|continue|submit|confirm|yes|agree/.test(label)) {
				primary = btn.id ? "#" + CSS.escape(btn.id) : locator + " " + btn.tagName.toLowerCase();
			}
		}
		out.push({
			locator: locator,
			rect: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
			text: (el.innerText || "").trim().slice(0, 300),
			primaryAction: primary,
			dismissAction: dismiss,
		});
	}
	return out;
}`

const axTreeScript = `(maxDepth) => {
	function nodeOf(el, depth) {
		if (depth > maxDepth) return null;
		const role = el.getAttribute ? (el.getAttribute("role") || el.tagName.toLowerCase()) : "";
		const name = el.getAttribute ? (el.getAttribute("aria-label") || "") : "";
		const children = [];
		for (const child of el.children || []) {
			const n = nodeOf(child, depth + 1);
			if (n) children.push(n);
			if (children.length >= 12) break;
		}
		if (!role && children.length === 0) return null;
		return {role: role, name: name, children: children};
	}
	const roots = [];
	const landmarks = document.querySelectorAll("main,nav,header,footer,aside,form,[role='main'],[role='navigation'],[role='banner'],[role='form'],[role='search']");
	for (const el of landmarks) {
		const n = nodeOf(el, 1);
		if (n) roots.push(n);
		if (roots.length >= 8) break;
	}
	return roots;
}`
