// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package thread contains the small set of concurrency primitives used by the radio drivers:
// a reentrant mutex, a counting semaphore, a blocking FIFO queue, and a managed worker thread.
//
// The radio drivers have to coordinate three contexts: the goroutine servicing the radio's
// interrupt pin, application goroutines that transmit packets, and a worker that consumes
// received packets. The interrupt handler calls into the same methods that application code
// calls, which is why the chip lock must be reentrant.
package thread
