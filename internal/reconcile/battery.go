package reconcile

// LowBatteryMessage is the device error set for the critical tier.
const LowBatteryMessage = "Battery Low!"

// BatteryTier is a battery classification.
type BatteryTier struct {
	Name     string
	Icon     string
	Critical bool
}

var batteryTiers = []struct {
	below int
	tier  BatteryTier
}{
	{10, BatteryTier{Name: "critical", Icon: "battery_critical", Critical: true}},
	{25, BatteryTier{Name: "low", Icon: "battery_low"}},
	{50, BatteryTier{Name: "25", Icon: "battery_25"}},
	{75, BatteryTier{Name: "50", Icon: "battery_50"}},
	{90, BatteryTier{Name: "75", Icon: "battery_75"}},
}

var fullTier = BatteryTier{Name: "full", Icon: "battery_full"}

// ClassifyBattery maps a 0-100 level onto its tier. ok is false for
// out-of-range levels.
func ClassifyBattery(level int) (tier BatteryTier, ok bool) {
	if level < 0 || level > 100 {
		return BatteryTier{}, false
	}
	for _, t := range batteryTiers {
		if level < t.below {
			return t.tier, true
		}
	}
	return fullTier, true
}
