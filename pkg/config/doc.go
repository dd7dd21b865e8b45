/*
Package config loads the static YAML configuration of a tickr process.

Every process (scheduler, worker, clock, clock-tasks, incidents) reads the
same file. Decoding is strict: unknown keys are errors. Validate fails fast on
malformed task references, unparseable crontabs, sub-second intervals and
unknown drivers, so a process never starts with a schedule it cannot
evaluate.

Example:

	scheduler:
	  key_prefix: tickr:scheduler
	  schedules:
	    monitors-clock-pulse:
	      task: monitors:clock_pulse
	      interval: 1m
	    nightly-report:
	      task: reports:nightly
	      crontab: "0 3 * * *"
	      timezone: Europe/Berlin
*/
package config
