package control

import "sort"

// Command is one remote playback action evaluated inside the watched tab.
type Command struct {
	Action string
	Log    string
	Script string
}

var commands = map[string]Command{
	"toggle_play_pause": {
		Action: "toggle_play_pause",
		Log:    "toggling play/pause",
		Script: `(() => { const v = document.querySelector('video'); if (!v) return; if (v.paused) { v.play(); } else { v.pause(); } })()`,
	},
	"next_video": {
		Action: "next_video",
		Log:    "skipping to next video",
		Script: `(() => { const b = document.querySelector('.ytp-next-button'); if (b) b.click(); })()`,
	},
	"volume_up": {
		Action: "volume_up",
		Log:    "adjusting volume up",
		Script: `(() => { const v = document.querySelector('video'); if (v) v.volume = Math.min(1, v.volume + 0.1); })()`,
	},
	"volume_down": {
		Action: "volume_down",
		Log:    "adjusting volume down",
		Script: `(() => { const v = document.querySelector('video'); if (v) v.volume = Math.max(0, v.volume - 0.1); })()`,
	},
	"rewind": {
		Action: "rewind",
		Log:    "rewinding video",
		Script: `(() => { const v = document.querySelector('video'); if (v) v.currentTime = Math.max(0, v.currentTime - 10); })()`,
	},
	"forward": {
		Action: "forward",
		Log:    "forwarding video",
		Script: `(() => { const v = document.querySelector('video'); if (v) v.currentTime = v.currentTime + 10; })()`,
	},
}

// Lookup resolves an action name to its command.
func Lookup(action string) (Command, bool) {
	c, ok := commands[action]
	return c, ok
}

// Actions lists the supported action names, sorted.
func Actions() []string {
	out := make([]string, 0, len(commands))
	for a := range commands {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
