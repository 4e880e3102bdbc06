package models

// All returns every model that takes part in schema migration, in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Campaign{},
		&Lead{},
		&IntentSignal{},
		&WebsiteHealthScore{},
		&SequenceStep{},
		&LeadSequenceProgress{},
		&QueuedLead{},
		&Email{},
		&EmailOpen{},
		&AnalyticsEvent{},
		&Webhook{},
		&WebhookDelivery{},
	}
}
