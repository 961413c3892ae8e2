package domain

import "time"

// NewsDate is the calendar day an article is attributed to, formatted
// 2006-01-02. It is computed upstream by the daily cutoff rule and never
// recomputed here.
type NewsDate string

// NewsDateOf truncates t to its calendar day.
func NewsDateOf(t time.Time) NewsDate {
	return NewsDate(t.Format("2006-01-02"))
}

// ParseNewsDate validates and normalizes a 2006-01-02 date string.
func ParseNewsDate(s string) (NewsDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", err
	}
	return NewsDateOf(t), nil
}

// Time returns midnight UTC of the news date.
func (d NewsDate) Time() time.Time {
	t, _ := time.Parse("2006-01-02", string(d))
	return t
}

func (d NewsDate) String() string { return string(d) }

// Article is an embedded news article. Immutable once embedded; the
// embedding and the news date come from external collaborators.
type Article struct {
	ID          string
	Title       string
	Embedding   []float32
	PublishedAt time.Time
	NewsDate    NewsDate
}

// RawArticle is an article record before embedding, as delivered by the
// acquisition side. Text is whatever the inference service should embed.
type RawArticle struct {
	ID          string
	Title       string
	Text        string
	PublishedAt time.Time
	NewsDate    NewsDate
}
