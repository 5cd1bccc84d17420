package factors

import "fmt"

// Reasons explains the notable features of a factor set in plain words.
func Reasons(s Snapshot) []string {
	var out []string
	if s.Momentum > 0.5 {
		out = append(out, fmt.Sprintf("strong momentum (%.2f)", s.Momentum))
	} else if s.Momentum < -0.5 {
		out = append(out, fmt.Sprintf("negative momentum (%.2f)", s.Momentum))
	}
	if s.VolumeStability >= 0.9 {
		out = append(out, "stable volume profile")
	}
	if s.HolderQuality >= 0.8 {
		out = append(out, "broad holder base")
	}
	if s.Liquidity > 2.0 {
		out = append(out, "deep liquidity")
	}
	if s.Volatility > 2.0 {
		out = append(out, fmt.Sprintf("high volatility (%.2f)", s.Volatility))
	}
	if s.IdiosyncraticRisk > 0.6 {
		out = append(out, "high idiosyncratic opportunity")
	}
	if s.SystematicRisk > 0.8 {
		out = append(out, "dominated by market moves")
	}
	return out
}
