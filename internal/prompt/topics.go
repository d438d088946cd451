package prompt

import "strings"

// MaxTopics caps the number of suggestions returned.
const MaxTopics = 5

// FallbackTopics are offered when the model produces too few usable lines.
var FallbackTopics = []string{
	"The future of artificial intelligence",
	"Climate change and sustainability",
	"The impact of technology on society",
	"Philosophy of consciousness",
	"Innovation in healthcare",
}

var topicPreambles = []string{"Here", "Here are", "Topics:", "1.", "2.", "3.", "-"}

// Topics builds the topic suggestion prompt.
func Topics(hasDocuments bool) string {
	if hasDocuments {
		return "Generate 5 engaging discussion topics for a podcast conversation between two AI personas. \n" +
			"The topics should be relevant to the documents that have been uploaded to the knowledge base.\n" +
			"Return only the topics, one per line, without numbering or bullets. Keep each topic concise (5-10 words)."
	}
	return "Generate 5 engaging discussion topics for a podcast conversation between two AI personas.\n" +
		"Topics should be thought-provoking and suitable for deep discussion. \n" +
		"Return only the topics, one per line, without numbering or bullets. Keep each topic concise (5-10 words)."
}

// ParseTopics splits model output into topics, falling back when fewer than
// three survive filtering.
func ParseTopics(text string) []string {
	var topics []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || hasPreamble(line) {
			continue
		}
		topics = append(topics, line)
		if len(topics) == MaxTopics {
			break
		}
	}
	if len(topics) < 3 {
		return Fallback()
	}
	return topics
}

// Fallback returns a copy of the fallback topics.
func Fallback() []string {
	return append([]string(nil), FallbackTopics...)
}

// StartLine is the host message that opens a discussion on topic.
func StartLine(topic string) string {
	return "Let's discuss: " + strings.TrimSpace(topic)
}

func hasPreamble(line string) bool {
	for _, p := range topicPreambles {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
