package models

// Token is an image marker on the battle map. Its z-order is its index in the map's token list.
type Token struct {
	ID       string  `json:"id"`
	ImageRef string  `json:"imageRef"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// TokenIndex returns the position of id in tokens, or -1.
func TokenIndex(tokens []Token, id string) int {
	for i, t := range tokens {
		if t.ID == id {
			return i
		}
	}
	return -1
}
