package elastic

import "encoding/json"

// The knowledge base indexes raw tweets; these builders reproduce the
// constant-score term queries the handler's flows depend on. Replies are
// distinguished by the presence of in_reply_to_user_id.

// TimelineCountQuery counts the subject's own (non-reply) tweets
func TimelineCountQuery(screenName string) string {
	return mustJSON(map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"user.screen_name": screenName},
					},
				},
				"must_not": []interface{}{
					map[string]interface{}{
						"exists": map[string]interface{}{"field": "in_reply_to_user_id"},
					},
				},
			},
		},
	})
}

// LatestTimelineTweetQuery returns the subject's highest-id non-reply tweet
func LatestTimelineTweetQuery(screenName string) string {
	return mustJSON(map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"user.screen_name": screenName},
					},
				},
				"must_not": []interface{}{
					map[string]interface{}{
						"exists": map[string]interface{}{"field": "in_reply_to_user_id"},
					},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"id": map[string]interface{}{"order": "desc"}},
		},
		"size": 1,
	})
}

// AnyTweetQuery returns an arbitrary tweet authored by the subject, used to
// resolve the subject's internal user id.
func AnyTweetQuery(screenName string) string {
	return mustJSON(map[string]interface{}{
		"query": map[string]interface{}{
			"constant_score": map[string]interface{}{
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"user.screen_name": screenName},
				},
			},
		},
		"size": 1,
	})
}

// LatestReplyQuery returns the highest-id tweet addressed to userID
func LatestReplyQuery(userID int64) string {
	return mustJSON(map[string]interface{}{
		"query": map[string]interface{}{
			"constant_score": map[string]interface{}{
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"in_reply_to_user_id": userID},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"id": map[string]interface{}{"order": "desc"}},
		},
		"size": 1,
	})
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Query shapes are static; marshalling cannot fail at runtime
		panic(err)
	}
	return string(data)
}
