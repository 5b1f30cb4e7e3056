package frontend

import "net/url"

var tabs = []string{"asked", "answered", "private"}

func streamPath(eventID, tab, token string) string {
	q := url.Values{}
	q.Set("tab", tab)
	q.Set("format", "html")
	if token != "" {
		q.Set("token", token)
	}
	return "/api/v1/events/" + url.PathEscape(eventID) + "/stream?" + q.Encode()
}
