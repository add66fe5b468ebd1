package handler

// computeBindingPlan resolves a configured binding list into an ordered
// plan of action names, or nil if any bound action is unresolvable or
// disabled (spec.md §4.6.1 "Binding plan computation"). Handlers are
// looked up fresh rather than cached, per the no-back-pointers guidance.
func computeBindingPlan(lookup Lookup, anomalyName, anomalyKey string, bindings []string) []string {
	if lookup == nil {
		return nil
	}
	for _, name := range bindings {
		h, ok := lookup.Handler(name)
		if !ok {
			return nil
		}
		if !h.IsEnabled(anomalyName, anomalyKey, false) {
			return nil
		}
	}
	plan := make([]string, len(bindings))
	copy(plan, bindings)
	return plan
}
