// Package noise provides the input filter applied to room audio before it
// reaches the realtime model.
package noise
