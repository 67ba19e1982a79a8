package taskname

const (
	// Poll tasks, one per platform run
	AirdropPoll = "airdrop:poll"

	// Push tasks carry a single participant notification
	AirdropPushNotification = "airdrop:push:notification"
)
