// Package worker provides the single bounded execution resource of the
// service. Disk reads, disk writes, cache-miss loads and the periodic sweep
// all run as tasks on one Pool; request handlers only ever wait on the
// results. The Scheduler drives recurring jobs (the expiry sweep, rate limiter
// housekeeping) onto the same pool with cron schedules.
package worker
