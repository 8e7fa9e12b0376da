package domain

// SeedAuthor is recorded as the writer of the default document.
const SeedAuthor = "system"

// Seed returns the document used when a store holds no data yet.
func Seed() Document {
	return Document{
		Boards: []Board{
			{ID: 1, Title: "To Do", Color: "blue", Cards: []Card{}},
			{ID: 2, Title: "In Progress", Color: "yellow", Cards: []Card{}},
			{ID: 3, Title: "Done", Color: "green", Cards: []Card{}},
		},
		Version:       1,
		LastUpdatedBy: SeedAuthor,
	}
}
