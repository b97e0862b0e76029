package hud

import "github.com/mcdev12/tavern/go/internal/models"

const xpPerLevel = 100

// NormalizeXP rolls xp over into levels so that xp ends in [0,99] and level stays >= 1.
// Overflow adds a level per 100 xp. Underflow borrows 100 xp per level while above level 1;
// once no level is left to borrow from, xp floors at 0.
func NormalizeXP(e models.XPEntry) models.XPEntry {
	if e.Level < 1 {
		e.Level = 1
	}
	if e.XP >= xpPerLevel {
		e.Level += e.XP / xpPerLevel
		e.XP %= xpPerLevel
	}
	if e.XP < 0 {
		need := (-e.XP + xpPerLevel - 1) / xpPerLevel
		if need > e.Level-1 {
			return models.XPEntry{XP: 0, Level: 1}
		}
		e.Level -= need
		e.XP += need * xpPerLevel
	}
	return e
}

// ClampXP bounds a directly entered ledger row without rolling anything over.
func ClampXP(e models.XPEntry) models.XPEntry {
	e.XP = min(max(e.XP, 0), xpPerLevel-1)
	e.Level = max(e.Level, 1)
	return e
}
