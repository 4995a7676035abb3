package book

// Book is a single catalog record. Document keys match the stored field names.
type Book struct {
	ID            string   `json:"id,omitempty" bson:"-"`
	Title         string   `json:"title" bson:"title"`
	Author        string   `json:"author" bson:"author"`
	PublishedYear int      `json:"publishedYear" bson:"publishedYear"`
	Genre         string   `json:"genre" bson:"genre"`
	ISBN          string   `json:"ISBN" bson:"ISBN"`
	Rating        *float64 `json:"rating,omitempty" bson:"rating,omitempty"`
}

// GroupCount is one row of a group-by-field count
type GroupCount struct {
	Key   string `json:"_id" bson:"_id"`
	Count int64  `json:"totalBooks" bson:"totalBooks"`
}

// Rated returns a copy of b with the given rating
func (b Book) Rated(r float64) Book {
	b.Rating = &r
	return b
}

// Sample returns the fixed dataset the demo seeds the catalog with
func Sample() []Book {
	return []Book{
		{
			Title:         "The Pragmatic Programmer",
			Author:        "Andrew Hunt",
			PublishedYear: 1999,
			Genre:         "Technology",
			ISBN:          "978-0201616224",
		},
		{
			Title:         "Clean Code",
			Author:        "Robert C. Martin",
			PublishedYear: 2008,
			Genre:         "Programming",
			ISBN:          "978-0132350884",
		},
		{
			Title:         "The Hobbit",
			Author:        "J.R.R. Tolkien",
			PublishedYear: 1937,
			Genre:         "Fantasy",
			ISBN:          "978-0345339683",
		},
		{
			Title:         "Atomic Habits",
			Author:        "James Clear",
			PublishedYear: 2018,
			Genre:         "Self-Help",
			ISBN:          "978-0735211292",
		},
		{
			Title:         "Deep Work",
			Author:        "Cal Newport",
			PublishedYear: 2016,
			Genre:         "Productivity",
			ISBN:          "978-1455586691",
		},
	}
}
