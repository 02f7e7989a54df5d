package proximity

import "time"

// SettingsResponse is the API shape of the live settings.
type SettingsResponse struct {
	EntryRadiusMeters           float64 `json:"entry_radius_meters"`
	ExitRadiusMeters            float64 `json:"exit_radius_meters"`
	AccuracyFactor              float64 `json:"accuracy_factor"`
	DetectionThresholdMeters    float64 `json:"detection_threshold_meters"`
	GeofenceRadiusMeters        float64 `json:"geofence_radius_meters"`
	DetectionCooldownSeconds    float64 `json:"detection_cooldown_seconds"`
	NotificationCooldownSeconds float64 `json:"notification_cooldown_seconds"`
	DebounceMillis              int64   `json:"debounce_millis"`
}

// ToSettingsResponse converts settings to their API representation.
func ToSettingsResponse(s Settings) SettingsResponse {
	return SettingsResponse{
		EntryRadiusMeters:           s.EntryRadius,
		ExitRadiusMeters:            s.ExitRadius,
		AccuracyFactor:              s.AccuracyFactor,
		DetectionThresholdMeters:    s.DetectionThreshold,
		GeofenceRadiusMeters:        s.GeofenceRadius,
		DetectionCooldownSeconds:    s.DetectionCooldown.Seconds(),
		NotificationCooldownSeconds: s.NotificationCooldown.Seconds(),
		DebounceMillis:              s.Debounce.Milliseconds(),
	}
}

// UpdateSettingsRequest changes only the fields that are present.
type UpdateSettingsRequest struct {
	EntryRadiusMeters           *float64 `json:"entry_radius_meters" mapstructure:"entry_radius_meters" binding:"omitempty,gt=0"`
	ExitRadiusMeters            *float64 `json:"exit_radius_meters" mapstructure:"exit_radius_meters" binding:"omitempty,gt=0"`
	AccuracyFactor              *float64 `json:"accuracy_factor" mapstructure:"accuracy_factor" binding:"omitempty,gte=0"`
	DetectionThresholdMeters    *float64 `json:"detection_threshold_meters" mapstructure:"detection_threshold_meters" binding:"omitempty,gt=0"`
	DetectionCooldownSeconds    *float64 `json:"detection_cooldown_seconds" mapstructure:"detection_cooldown_seconds" binding:"omitempty,gte=0"`
	NotificationCooldownSeconds *float64 `json:"notification_cooldown_seconds" mapstructure:"notification_cooldown_seconds" binding:"omitempty,gte=0"`
	DebounceMillis              *int64   `json:"debounce_millis" mapstructure:"debounce_millis" binding:"omitempty,gte=0"`
}

// Apply copies the present fields onto s.
func (r UpdateSettingsRequest) Apply(s *Settings) {
	if r.EntryRadiusMeters != nil {
		s.EntryRadius = *r.EntryRadiusMeters
	}
	if r.ExitRadiusMeters != nil {
		s.ExitRadius = *r.ExitRadiusMeters
	}
	if r.AccuracyFactor != nil {
		s.AccuracyFactor = *r.AccuracyFactor
	}
	if r.DetectionThresholdMeters != nil {
		s.DetectionThreshold = *r.DetectionThresholdMeters
	}
	if r.DetectionCooldownSeconds != nil {
		s.DetectionCooldown = secondsToDuration(*r.DetectionCooldownSeconds)
	}
	if r.NotificationCooldownSeconds != nil {
		s.NotificationCooldown = secondsToDuration(*r.NotificationCooldownSeconds)
	}
	if r.DebounceMillis != nil {
		s.Debounce = time.Duration(*r.DebounceMillis) * time.Millisecond
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
