package uttt

// Rock-paper-scissors throws, used as the tie-break when the
// super-board resolves to a full tie.
const (
	Rock     = "r"
	Paper    = "p"
	Scissors = "s"
)

// ValidThrow reports whether s is one of the three throws.
func ValidThrow(s string) bool {
	return s == Rock || s == Paper || s == Scissors
}

// ResolveThrows applies standard precedence: rock beats scissors,
// scissors beats paper, paper beats rock. It returns 1 when the first
// throw wins, 2 when the second wins and 0 for identical throws.
func ResolveThrows(first, second string) int {
	if first == second {
		return 0
	}
	if (first == Rock && second == Scissors) ||
		(first == Paper && second == Rock) ||
		(first == Scissors && second == Paper) {
		return 1
	}
	return 2
}
