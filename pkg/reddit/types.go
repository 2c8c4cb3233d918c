package reddit

// Submission is a single post as returned by the listing API.
type Submission struct {
	ID          string `json:"post_id"`
	Subreddit   string `json:"subreddit"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Score       int64  `json:"score"`
	NumComments int64  `json:"num_comments"`
	CreatedUTC  int64  `json:"created_utc"`
	URL         string `json:"url"`
}

// listing mirrors the relevant slice of the Reddit listing envelope.
type listing struct {
	Data struct {
		Children []struct {
			Data submissionPayload `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// submissionPayload is the raw per-post payload. Numeric fields arrive as
// JSON numbers (created_utc is fractional), text fields may be absent.
type submissionPayload struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Score       float64 `json:"score"`
	NumComments float64 `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
}

// tokenResponse is the OAuth2 client-credentials grant response.
type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   float64 `json:"expires_in"`
	Error       string  `json:"error"`
}
