package solarterm

import (
	"math"
	"time"
)

const (
	// TermCount is the number of solar terms in one tropical year.
	TermCount = 24

	// TermStepDeg is the solar-longitude spacing between adjacent terms.
	TermStepDeg = 15
)

// termNames holds the pinyin term names indexed by target/TermStepDeg.
// Targets are apparent solar longitudes, so index 0 is the spring equinox.
var termNames = [TermCount]string{
	"Chunfen",     // 0
	"Qingming",    // 15
	"Guyu",        // 30
	"Lixia",       // 45
	"Xiaoman",     // 60
	"Mangzhong",   // 75
	"Xiazhi",      // 90
	"Xiaoshu",     // 105
	"Dashu",       // 120
	"Liqiu",       // 135
	"Chushu",      // 150
	"Bailu",       // 165
	"Qiufen",      // 180
	"Hanlu",       // 195
	"Shuangjiang", // 210
	"Lidong",      // 225
	"Xiaoxue",     // 240
	"Daxue",       // 255
	"Dongzhi",     // 270
	"Xiaohan",     // 285
	"Dahan",       // 300
	"Lichun",      // 315
	"Yushui",      // 330
	"Jingzhe",     // 345
}

// Node is one resolved solar-term crossing.
type Node struct {
	TargetDeg float64   `json:"target_deg"`
	Name      string    `json:"name"`
	Sectional bool      `json:"sectional"`
	At        time.Time `json:"at"`
}

// TermIndex returns the position of targetDeg in the ascending target list,
// or -1 when targetDeg is not a multiple of TermStepDeg in [0,360).
func TermIndex(targetDeg float64) int {
	if targetDeg < 0 || targetDeg >= 360 {
		return -1
	}
	if math.Mod(targetDeg, TermStepDeg) != 0 {
		return -1
	}
	return int(targetDeg) / TermStepDeg
}

// Name returns the pinyin name of the term at targetDeg, or the empty string
// when targetDeg is not a term boundary.
func Name(targetDeg float64) string {
	i := TermIndex(targetDeg)
	if i < 0 {
		return ""
	}
	return termNames[i]
}

// Sectional reports whether the term at targetDeg is a sectional (Jie) term.
// Sectional terms open the twelve solar months, Lichun at 315 degrees first
// among them. The terms midway between, equinoxes and solstices included,
// are the medial Zhongqi terms.
func Sectional(targetDeg float64) bool {
	return TermIndex(targetDeg) >= 0 && math.Mod(targetDeg, 2*TermStepDeg) == TermStepDeg
}

// Targets returns the term targets in ascending degree order.
func Targets() []float64 {
	out := make([]float64, TermCount)
	for i := range out {
		out[i] = float64(i * TermStepDeg)
	}
	return out
}
