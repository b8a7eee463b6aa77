package fetch

import (
	"encoding/json"
	"fmt"

	"github.com/Mishiranu/threadwatch/internal/watch"
)

// threadDocument is the subset of the thread JSON the fetcher reads.
type threadDocument struct {
	Posts []struct {
		No int64 `json:"no"`
	} `json:"posts"`
}

// parsePosts returns the post numbers of a thread document.
func parsePosts(body []byte) ([]int64, error) {
	var doc threadDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if len(doc.Posts) == 0 {
		return nil, fmt.Errorf("%w: no posts", ErrMalformed)
	}

	posts := make([]int64, 0, len(doc.Posts))
	for _, p := range doc.Posts {
		posts = append(posts, p.No)
	}

	return posts, nil
}

// countPosts computes the result for a reader who has seen everything up
// to seen. Nothing counts as new for a reader with no marker.
func countPosts(posts []int64, seen int64) watch.FetchResult {
	var res watch.FetchResult

	for _, no := range posts {
		res.LatestPost = max(res.LatestPost, no)

		if seen > 0 && no > seen {
			res.NewCount++
		}
	}

	return res
}
