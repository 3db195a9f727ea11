// github.com/tve/loradev contains a driver for Semtech SX127x LoRa radios and the pieces needed to
// run it on a Linux board: an SPI/GPIO bus adapter, a small concurrency toolkit, and a packet
// node with transmit and receive queues. It uses periph.io or embd for the low level access to
// the hardware pins. Simple commands to exercise the radio can be found in the cmd directory tree.
package loradev
