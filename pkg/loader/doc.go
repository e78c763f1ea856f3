// Package loader reads declarative rule documents and converts them into
// engine rules.
//
// Documents are YAML or JSON files containing one or more rule definitions.
// Conditions use the same shape the engine serializes, so a document rule and
// a programmatically built rule are interchangeable:
//
//	name: checkout-rules
//	rules:
//	  - name: gold-discount
//	    priority: 10
//	    conditions:
//	      all:
//	        - fact: customerTier
//	          operator: equal
//	          value: gold
//	    event:
//	      type: apply-discount
//	      params:
//	        percent: 15
//
// Loading and wiring into an engine:
//
//	loader := loader.NewLoader(logger)
//	rules, err := loader.LoadFromPaths(ctx, []string{"/etc/rulekit/rules"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rule := range rules {
//	    if err := eng.AddRule(rule); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Hot Reload
//
// The loader can watch rule files for changes and hand the reloaded set to a
// callback:
//
//	err = loader.Watch(ctx, paths, func(rules []*engine.Rule) error {
//	    return eng.ReplaceRules(rules)
//	})
//
// Reloads are debounced, so a burst of file events produces a single reload.
package loader
