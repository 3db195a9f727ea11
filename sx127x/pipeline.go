// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx127x

// TransmitPacket switches the radio to TX and starts transmitting pkt. If implicitHeader is
// true the packet is sent without header, the receiver has to know its length.
//
// Packets that don't fit into the FIFO are truncated, the number of bytes actually written
// is returned.
func (r *Radio) TransmitPacket(pkt []byte, implicitHeader bool) (int, error) {
	r.lock.Acquire()
	defer r.unlock()
	n := r.transmit(pkt, implicitHeader)
	return n, r.err
}

func (r *Radio) transmit(pkt []byte, implicitHeader bool) int {
	r.startPacket(implicitHeader)
	n := r.writePacket(pkt)
	r.setTransmitMode()
	return n
}

// startPacket parks the radio in standby and rewinds the FIFO for a new TX packet.
func (r *Radio) startPacket(implicitHeader bool) {
	r.setMode(MODE_STANDBY)
	r.setImplicitHeader(implicitHeader)
	r.writeReg(REG_FIFOPTR, txFifoBase)
	r.writeReg(REG_PAYLENGTH, 0)
}

// writePacket appends pkt to the TX packet in the FIFO and returns how many bytes fit.
func (r *Radio) writePacket(pkt []byte) int {
	current := int(r.readReg(REG_PAYLENGTH))
	size := len(pkt)
	if room := maxPacketLength - txFifoBase - current; size > room {
		r.log("TX packet truncated from %d to %d bytes", size, room)
		size = room
	}
	r.writeBuf(REG_FIFO, pkt[:size])
	r.writeReg(REG_PAYLENGTH, byte(current+size))
	return size
}

// rxInterrupt handles the RX done interrupt: it reads the packet out of the FIFO and hands
// it to the handler.
func (r *Radio) rxInterrupt() {
	r.lock.Acquire()
	defer r.unlock()

	flags := r.readReg(REG_IRQFLAGS)
	if flags&IRQ_RXDONE == 0 {
		// spurious interrupt?
		r.log("RX interrupt but no packet received, flags %#02x", flags)
		return
	}
	r.writeReg(REG_IRQFLAGS, IRQ_RXDONE|IRQ_CRCERR|IRQ_VALIDHDR)

	// Grab the payload.
	r.writeReg(REG_FIFOPTR, r.readReg(REG_FIFORXCURR))
	var length byte
	if r.cfg.ImplicitHeader {
		length = r.readReg(REG_PAYLENGTH)
	} else {
		length = r.readReg(REG_RXBYTES)
	}
	payload := r.readBuf(REG_FIFO, int(length))
	crcOK := flags&IRQ_CRCERR == 0
	rssi := r.packetRSSI()
	if r.err != nil {
		return
	}

	if r.handler != nil {
		r.handler.OnReceive(payload, crcOK, rssi)
	}
}

// txInterrupt handles the TX done interrupt: it starts the next packet the handler provides,
// or returns to receive mode.
func (r *Radio) txInterrupt() {
	r.lock.Acquire()
	defer r.unlock()

	flags := r.readReg(REG_IRQFLAGS)
	if flags&IRQ_TXDONE == 0 {
		r.log("TX interrupt but TX not done, flags %#02x", flags)
		return
	}
	r.writeReg(REG_IRQFLAGS, IRQ_TXDONE)

	var next []byte
	if r.handler != nil {
		next = r.handler.OnTransmit()
	}
	if next != nil {
		r.transmit(next, false)
	} else {
		r.setReceiveMode()
	}
}
