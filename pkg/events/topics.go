package events

const (
	TopicLinkState = "linkd:events:link:state"
)
