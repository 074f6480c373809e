package filament

import "fmt"

const notPresentText = "Filament NOT present"

// QueryStatus renders the last reading the way M407 reports it.
func QueryStatus(state *State) string {
	if state.LastDiameter > 0 {
		return fmt.Sprintf("Filament dia (measured mm): %.2f", state.LastDiameter)
	}
	return notPresentText
}
