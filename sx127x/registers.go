// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx127x

// Register addresses in LoRa mode.
const (
	REG_FIFO         = 0x00
	REG_OPMODE       = 0x01
	REG_FRFMSB       = 0x06
	REG_FRFMID       = 0x07
	REG_FRFLSB       = 0x08
	REG_PACONFIG     = 0x09
	REG_PARAMP       = 0x0A
	REG_OCP          = 0x0B
	REG_LNA          = 0x0C
	REG_FIFOPTR      = 0x0D
	REG_FIFOTXBASE   = 0x0E
	REG_FIFORXBASE   = 0x0F
	REG_FIFORXCURR   = 0x10
	REG_IRQMASK      = 0x11
	REG_IRQFLAGS     = 0x12
	REG_RXBYTES      = 0x13
	REG_MODEMSTAT    = 0x18
	REG_PKTSNR       = 0x19
	REG_PKTRSSI      = 0x1A
	REG_CURRSSI      = 0x1B
	REG_HOPCHAN      = 0x1C
	REG_MODEMCONF1   = 0x1D
	REG_MODEMCONF2   = 0x1E
	REG_SYMBTIMEOUT  = 0x1F
	REG_PREAMBLEMSB  = 0x20
	REG_PREAMBLELSB  = 0x21
	REG_PAYLENGTH    = 0x22
	REG_PAYMAX       = 0x23
	REG_HOPPERIOD    = 0x24
	REG_FIFORXLAST   = 0x25
	REG_MODEMCONF3   = 0x26
	REG_FEI          = 0x28
	REG_RSSIWIDEBAND = 0x2C
	REG_DETECTOPT    = 0x31
	REG_INVERTIQ     = 0x33
	REG_DETECTTHR    = 0x37
	REG_SYNC         = 0x39
	REG_DIOMAPPING1  = 0x40
	REG_DIOMAPPING2  = 0x41
	REG_VERSION      = 0x42
	REG_TCXO         = 0x4B
	REG_PADAC        = 0x4D
)

// OpMode register bits.
const (
	OPMODE_LONGRANGE = 0x80 // LoRa mode, can only be changed in sleep
	OPMODE_LOWFREQ   = 0x08 // access to low frequency registers
	OPMODE_MASK      = 0x07 // mode bits
)

// IRQ mask and flags registers.
const (
	IRQ_RXTIMEOUT = 1 << 7
	IRQ_RXDONE    = 1 << 6
	IRQ_CRCERR    = 1 << 5
	IRQ_VALIDHDR  = 1 << 4
	IRQ_TXDONE    = 1 << 3
	IRQ_CADDONE   = 1 << 2
	IRQ_FHSCHG    = 1 << 1
	IRQ_CADDETECT = 1 << 0
)

// Bits and fields of the modem configuration registers.
const (
	CONF1_IMPLICIT = 0x01 // implicit header mode
	CONF1_CRMASK   = 0x0E // coding rate
	CONF1_BWMASK   = 0xF0 // bandwidth
	CONF2_CRC      = 0x04 // payload CRC on
	CONF2_SFMASK   = 0xF0 // spreading factor
	CONF3_LOWRATE  = 0x08 // low data rate optimization
	CONF3_AGC      = 0x04 // LNA gain set by AGC
	LNA_BOOST      = 0x03 // LNA boost for the HF port
	PA_BOOST       = 0x80 // PaSelect: PA_BOOST pin instead of RFO
)

// DIO0 mappings in RegDioMapping1.
const (
	DIO0_RXDONE = 0x00
	DIO0_TXDONE = 0x40
)

// Detection optimize and threshold values, SF6 needs its own.
const (
	DETECTOPT_SF6   = 0xC5
	DETECTOPT_SF7UP = 0xC3
	DETECTTHR_SF6   = 0x0C
	DETECTTHR_SF7UP = 0x0A
)

const (
	maxPacketLength = 255  // size of the FIFO
	txFifoBase      = 0x00 // FIFO base address for TX
	rxFifoBase      = 0x00 // FIFO base address for RX
)
