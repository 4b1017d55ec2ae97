package feed

// SignalChannel is the signal bus channel venue activity is published to.
const SignalChannel = "signals:venues"

// knownPrograms maps venue names to their mainnet program IDs.
var knownPrograms = map[string]string{
	"Raydium": "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	"Orca":    "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	"Meteora": "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",
	"Phoenix": "PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY",
}

// ProgramsFor resolves the configured venue names to program subscriptions.
// Unknown venues are skipped; they still participate in quoting, just without
// activity signals.
func ProgramsFor(venues []string) []VenueProgram {
	out := make([]VenueProgram, 0, len(venues))
	for _, v := range venues {
		id, ok := knownPrograms[v]
		if !ok {
			continue
		}
		out = append(out, VenueProgram{Venue: v, ProgramID: id})
	}
	return out
}
