package shipment

// Bundle partitions an order's lines into shipping sub-type groups.
// Lines sharing a sub-type travel together; an order mixing regular and
// fresh lines yields two groups. Group order is stable: regular, fresh,
// freeze, so carrier submissions are deterministic for a given order.
func Bundle(order *Order) []Group {
	byType := make(map[SubType][]Line)
	for _, line := range order.Lines {
		byType[line.SubType] = append(byType[line.SubType], line)
	}

	groups := make([]Group, 0, len(byType))
	for _, subType := range []SubType{SubTypeRegular, SubTypeFresh, SubTypeFreeze} {
		if lines, ok := byType[subType]; ok {
			groups = append(groups, Group{
				OrderID: order.ID,
				SubType: subType,
				Lines:   lines,
			})
		}
	}
	return groups
}

// HasTemperatureControlled reports whether any line of the order is a
// fresh or freeze product.
func HasTemperatureControlled(order *Order) bool {
	for _, line := range order.Lines {
		if line.SubType.TemperatureControlled() {
			return true
		}
	}
	return false
}

// Eligible reports whether the order should produce shipments at all:
// either it was routed through one of our carrier services, or it
// contains temperature controlled products that must ship through the
// fresh/freeze chain regardless of the chosen carrier.
func Eligible(order *Order) bool {
	return order.Routing.Managed || HasTemperatureControlled(order)
}

// UniqueSKUs returns the distinct line references in first-seen order.
func UniqueSKUs(lines []Line) []string {
	seen := make(map[string]bool, len(lines))
	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.Reference] {
			seen[line.Reference] = true
			skus = append(skus, line.Reference)
		}
	}
	return skus
}
